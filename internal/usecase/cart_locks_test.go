package usecase

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// 解放されたエントリはmapから消える（カートIDごとに溜め込まない）
func TestCartLocks_ReleasedEntriesAreEvicted(t *testing.T) {
	locks := newCartLocks()

	unlock := locks.lock(7)
	locks.mu.Lock()
	assert.Len(t, locks.locks, 1)
	locks.mu.Unlock()

	unlock()

	locks.mu.Lock()
	assert.Len(t, locks.locks, 0)
	locks.mu.Unlock()
}

func TestCartLocks_SerializesSameCart(t *testing.T) {
	locks := newCartLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(7)
			counter++ //排他が効いていればatomic不要
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, counter)

	//待ちが全員捌けたらエントリも消えている
	locks.mu.Lock()
	assert.Len(t, locks.locks, 0)
	locks.mu.Unlock()
}
