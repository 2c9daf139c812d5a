package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLocalPart(t *testing.T) {
	tests := []struct {
		name      string
		localPart string
		valid     bool
	}{
		{"Valid simple", "alice", true},
		{"Valid with underscore and dash", "valid_user-1", true},
		{"Valid with dots", "a.b.c", true},
		{"Valid minimum length", "abc", true},
		{"Valid maximum length", "abcdefghijklmnopqrstuvwxyz1234", true},
		{"Invalid - too short", "ab", false},
		{"Invalid - too long", "abcdefghijklmnopqrstuvwxyz12345", false},
		{"Invalid - empty", "", false},
		{"Invalid - spaces", "test user", false},
		{"Invalid - plus", "user+tag", false},
		{"Invalid - at sign", "test@user", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLocalPart(tt.localPart)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidFormat))
			}
		})
	}
}

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		valid  bool
	}{
		{"Valid domain", "example.com", true},
		{"Valid subdomain", "mail.example.com", true},
		{"Valid with dash", "temp-mail.local", true},
		{"Valid single label", "localhost", true},
		{"Invalid - empty", "", false},
		{"Invalid - starts with dot", ".example.com", false},
		{"Invalid - ends with dot", "example.com.", false},
		{"Invalid - double dots", "example..com", false},
		{"Invalid - spaces", "example .com", false},
		{"Invalid - starts with dash", "-example.com", false},
		{"Invalid - ends with dash", "example-.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateDomain(tt.domain) == nil)
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeAddress("  <Alice@Example.COM> "))
	assert.Equal(t, "bob@x", NormalizeAddress("bob@x"))
	assert.Equal(t, "", NormalizeAddress("<>"))
}

func TestSplitAddress(t *testing.T) {
	local, dom, err := SplitAddress("Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", local)
	assert.Equal(t, "example.com", dom)

	for _, bad := range []string{"", "alice", "@example.com", "alice@"} {
		_, _, err := SplitAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidFormat, bad)
	}
}

func TestIsRoutable(t *testing.T) {
	assert.True(t, IsRoutable("alice@example.com"))
	assert.True(t, IsRoutable("<Bob.Smith+tag@mail.example.com>"))
	assert.False(t, IsRoutable("no-at-sign"))
	assert.False(t, IsRoutable("bad user@example.com"))
	assert.False(t, IsRoutable("alice@bad..domain"))
}

func TestTTL(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := 24 * time.Hour

	assert.Equal(t, t0.Add(r), ExpiresAt(t0, r))
	assert.Equal(t, t0, Cutoff(t0.Add(r), r))

	assert.False(t, IsExpired(t0, t0.Add(r-time.Second), r))
	assert.True(t, IsExpired(t0, t0.Add(r), r), "恰好到达保留期即过期")
	assert.True(t, IsExpired(t0, t0.Add(r+time.Second), r))
}

func TestMessageClone(t *testing.T) {
	msg := Message{
		ID:          "m1",
		To:          []string{"a@x"},
		Attachments: []Attachment{{Filename: "a.txt", Size: 3}},
	}
	cp := msg.Clone()
	cp.To[0] = "changed@x"
	cp.Attachments[0].Filename = "changed"

	assert.Equal(t, "a@x", msg.To[0])
	assert.Equal(t, "a.txt", msg.Attachments[0].Filename)
}

func TestMessageClone_KeepsEmptySlices(t *testing.T) {
	msg := Message{ID: "m2", To: []string{}, Attachments: []Attachment{}}
	cp := msg.Clone()

	assert.NotNil(t, cp.To)
	assert.NotNil(t, cp.Attachments)
	assert.Empty(t, cp.Attachments)

	raw, err := json.Marshal(cp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"attachments":[]`)

	assert.Nil(t, Message{ID: "m3"}.Clone().Attachments)
}
