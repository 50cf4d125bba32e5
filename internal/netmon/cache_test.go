//go:build darwin || freebsd

package netmon

import (
	"net"
	"testing"

	"github.com/wesleywu/pfnetmon/internal/hostaddr"
	"github.com/wesleywu/pfnetmon/internal/kernelfacade"
)

func addr(t *testing.T, s string) hostaddr.Address {
	t.Helper()
	a, err := hostaddr.FromNetIP(net.ParseIP(s))
	if err != nil {
		t.Fatalf("FromNetIP(%s): %v", s, err)
	}
	return a
}

func newTestCache() *cache {
	c := newCache(kernelfacade.NewAllowAll())
	c.upsertInterface(1, "en0", true)
	c.upsertInterface(2, "lo0", true)
	return c
}

func TestAddAddressAndInterfaceForAddress(t *testing.T) {
	c := newTestCache()
	a := addr(t, "192.0.2.1")

	c.addAddress(1, a, false)

	name, ok := c.interfaceForAddress(a)
	if !ok || name != "en0" {
		t.Fatalf("interfaceForAddress = (%q, %v), want (en0, true)", name, ok)
	}
}

func TestAddAddressIsIdempotent(t *testing.T) {
	c := newTestCache()
	a := addr(t, "192.0.2.1")

	c.addAddress(1, a, false)
	c.addAddress(1, a, false)

	if len(c.addrs[1]) != 1 {
		t.Errorf("got %d entries, want exactly 1 after duplicate addAddress", len(c.addrs[1]))
	}
}

func TestRemoveAddress(t *testing.T) {
	c := newTestCache()
	a := addr(t, "192.0.2.1")
	c.addAddress(1, a, false)

	c.removeAddress(1, a)

	if _, ok := c.interfaceForAddress(a); ok {
		t.Error("expected address to be gone after removeAddress")
	}
	if c.addressPresent(a) {
		t.Error("expected addressPresent to be false after removal")
	}
}

func TestAddressPresentIgnoresVirtualFlag(t *testing.T) {
	c := newTestCache()
	a := addr(t, "10.10.0.1")
	c.addAddress(1, a, true)

	if !c.addressPresent(a) {
		t.Error("expected addressPresent to report virtual addresses too")
	}
}

func TestMarkVirtualRemovesFromIndex(t *testing.T) {
	c := newTestCache()
	a := addr(t, "10.10.0.1")
	c.addAddress(1, a, false)

	c.markVirtual("en0", a)

	if _, ok := c.interfaceForAddress(a); ok {
		t.Error("expected markVirtual to remove the address from the public lookup index")
	}
	if !c.addressPresent(a) {
		t.Error("expected markVirtual to keep the address in the cache, just indexed as virtual")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.addrs[1] {
		if e.Address.Equal(a) && !e.Virtual {
			t.Error("expected AddressEntry.Virtual to be set")
		}
	}
}

func TestEnumeratorRespectsMaskBits(t *testing.T) {
	c := newTestCache()
	up := addr(t, "192.0.2.1")
	virt := addr(t, "192.0.2.2")
	loop := addr(t, "127.0.0.1")

	c.addAddress(1, up, false)
	c.addAddress(1, virt, true)
	c.addAddress(2, loop, false)

	e := c.createAddressEnumerator(MaskUp)
	var got []string
	for e.Next() {
		got = append(got, e.Address().String())
	}
	e.Close()

	if len(got) != 1 || got[0] != up.String() {
		t.Errorf("MaskUp alone = %v, want only %v (no virtual, no loopback)", got, up)
	}

	e = c.createAddressEnumerator(MaskUp | MaskVirtual)
	got = nil
	for e.Next() {
		got = append(got, e.Address().String())
	}
	e.Close()
	if len(got) != 2 {
		t.Errorf("MaskUp|MaskVirtual = %v, want 2 entries", got)
	}

	e = c.createAddressEnumerator(MaskUp | MaskVirtual | MaskLoopback)
	got = nil
	for e.Next() {
		got = append(got, e.Address().String())
	}
	e.Close()
	if len(got) != 3 {
		t.Errorf("MaskUp|MaskVirtual|MaskLoopback = %v, want 3 entries", got)
	}
}

func TestEnumeratorSkipsUnusableInterfaces(t *testing.T) {
	facade := kernelfacade.NewAllowAll()
	facade.Exclude("en1")
	c := newCache(facade)
	c.upsertInterface(1, "en0", true)
	c.upsertInterface(2, "en1", true)

	a0 := addr(t, "192.0.2.1")
	a1 := addr(t, "192.0.2.2")
	c.addAddress(1, a0, false)
	c.addAddress(2, a1, false)

	e := c.createAddressEnumerator(MaskUp | MaskSkipUnusable)
	var got []string
	for e.Next() {
		got = append(got, e.Interface())
	}
	e.Close()

	if len(got) != 1 || got[0] != "en0" {
		t.Errorf("got %v, want only en0 enumerated", got)
	}
}

func TestEnumeratorHoldsReadLockUntilClose(t *testing.T) {
	c := newTestCache()
	e := c.createAddressEnumerator(MaskUp)

	done := make(chan struct{})
	go func() {
		c.mu.Lock()
		c.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("writer acquired the lock before the enumerator released it")
	default:
	}

	e.Close()
	<-done
}

func TestUpsertInterfaceCreatesThenUpdates(t *testing.T) {
	c := newCache(kernelfacade.NewAllowAll())
	entry := c.upsertInterface(5, "utun0", false)
	if entry.Up {
		t.Error("expected freshly created interface to be down")
	}

	updated := c.upsertInterface(5, "utun0", true)
	if updated != entry {
		t.Error("expected upsertInterface to return the same entry on update")
	}
	if !updated.Up {
		t.Error("expected interface to be marked up after update")
	}
}
