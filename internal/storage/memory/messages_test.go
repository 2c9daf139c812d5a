package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"tempmail/disposable/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func TestMessageStore_InsertFetch(t *testing.T) {
	store := NewMessageStore(newFakeClock(t0).Now)

	msg := domain.Message{
		ID:          "m1",
		From:        "bob@x",
		To:          []string{"alice@domain"},
		Subject:     "Hi",
		Text:        "body",
		Attachments: []domain.Attachment{{Filename: "a.pdf", ContentType: "application/pdf", Size: 10}},
	}
	require.NoError(t, store.Insert(msg))

	got, err := store.Fetch("m1")
	require.NoError(t, err)
	assert.Equal(t, msg, got)
	assert.Equal(t, 1, store.Count())

	// 修改返回值不影响存储内容
	got.To[0] = "mallory@x"
	got.Attachments[0].Size = 0
	again, err := store.Fetch("m1")
	require.NoError(t, err)
	assert.Equal(t, "alice@domain", again.To[0])
	assert.EqualValues(t, 10, again.Attachments[0].Size)

	// 修改入参也不影响存储内容
	msg.To[0] = "changed@x"
	again, _ = store.Fetch("m1")
	assert.Equal(t, "alice@domain", again.To[0])
}

func TestMessageStore_WriteOnce(t *testing.T) {
	store := NewMessageStore(nil)

	require.NoError(t, store.Insert(domain.Message{ID: "m1", Subject: "first"}))
	err := store.Insert(domain.Message{ID: "m1", Subject: "second"})
	assert.ErrorIs(t, err, domain.ErrMessageExists)

	got, err := store.Fetch("m1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Subject)

	assert.ErrorIs(t, store.Insert(domain.Message{}), domain.ErrInvalidFormat)
}

func TestMessageStore_FetchMissing(t *testing.T) {
	store := NewMessageStore(nil)
	_, err := store.Fetch("nope")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestMessageStore_EvictOlderThan(t *testing.T) {
	clock := newFakeClock(t0)
	store := NewMessageStore(clock.Now)

	require.NoError(t, store.Insert(domain.Message{ID: "old"}))
	clock.Advance(time.Hour)
	require.NoError(t, store.Insert(domain.Message{ID: "new"}))

	assert.Equal(t, 0, store.EvictOlderThan(t0.Add(-time.Second)))
	assert.Equal(t, 1, store.EvictOlderThan(t0), "时间戳等于分界线也要删除")

	_, err := store.Fetch("old")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	_, err = store.Fetch("new")
	assert.NoError(t, err)
	assert.Equal(t, 1, store.Count())
}

func TestMessageStore_ConcurrentInsert(t *testing.T) {
	store := NewMessageStore(nil)
	const n = 500

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Insert(domain.Message{ID: fmt.Sprintf("m-%d", i)}))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, store.Count())
	for i := 0; i < n; i++ {
		_, err := store.Fetch(fmt.Sprintf("m-%d", i))
		require.NoError(t, err)
	}
}

func TestMessageStore_EvictRacingFetch(t *testing.T) {
	store := NewMessageStore(nil)
	for i := 0; i < 200; i++ {
		require.NoError(t, store.Insert(domain.Message{ID: fmt.Sprintf("m-%d", i), Subject: "s", To: []string{"a@x"}}))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		store.EvictOlderThan(time.Now().Add(time.Hour))
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			msg, err := store.Fetch(fmt.Sprintf("m-%d", i))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrMessageNotFound)
				continue
			}
			// 读到的要么是完整条目，要么是未找到
			assert.Equal(t, "s", msg.Subject)
			assert.Equal(t, []string{"a@x"}, msg.To)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, store.Count())
}
