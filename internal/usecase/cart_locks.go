package usecase

import "sync"

// カート単位の排他。webhookとクライアントrefreshが同時に来ても
// Finalizeが二重に走らないようにする。
// エントリは参照カウントで持ち、誰も使わなくなったらmapから消す。
type cartLocks struct {
	mu    sync.Mutex
	locks map[int64]*cartLockEntry
}

type cartLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newCartLocks() *cartLocks {
	return &cartLocks{locks: make(map[int64]*cartLockEntry)}
}

// lock はcartIDの排他を取り、解放関数を返す
func (c *cartLocks) lock(cartID int64) func() {
	c.mu.Lock()
	e, ok := c.locks[cartID]
	if !ok {
		e = &cartLockEntry{}
		c.locks[cartID] = e
	}
	e.refs++
	c.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		c.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(c.locks, cartID)
		}
		c.mu.Unlock()
	}
}
