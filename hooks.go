package storecache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the store calls them on
// hot paths, some of them while holding its lock.
type Hooks interface {
	// Hit and Miss are reported once per Get and once per key in GetBatch.
	Hit(dataType string)
	Miss(dataType string)
	// Coalesced is reported when a caller shared another caller's fetch.
	Coalesced(dataType string)

	// Evicted: an entry was dropped to keep dataType within MaxItems.
	Evicted(dataType, key string)
	// Expired: n entries of dataType were dropped because their TTL passed.
	Expired(dataType string, n int)

	// SelfHeal: a stored payload could not be decoded and was dropped.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(dataType, key, reason string)

	// BatchMissing: a batch fetch did not return some of the requested keys.
	BatchMissing(dataType string, missing int)

	// PersistCorrupt: a persisted blob was discarded while loading.
	// reason ∈ {"corrupt", "schema", "expired", "foreign"}
	PersistCorrupt(storageKey, reason string)
	// PersistError: a persistence backend call failed. op ∈ {"save", "delete", "load"}
	PersistError(op string, err error)

	// RolledBack: an optimistic mutation's remote write failed and the
	// pre-mutation snapshot was restored.
	RolledBack(dataType, key string, err error)

	// FilterFallback: a list query could not be filtered remotely and was
	// filtered in-process instead.
	FilterFallback(dataType, reason string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) Hit(string)                       {}
func (NopHooks) Miss(string)                      {}
func (NopHooks) Coalesced(string)                 {}
func (NopHooks) Evicted(string, string)           {}
func (NopHooks) Expired(string, int)              {}
func (NopHooks) SelfHeal(string, string, string)  {}
func (NopHooks) BatchMissing(string, int)         {}
func (NopHooks) PersistCorrupt(string, string)    {}
func (NopHooks) PersistError(string, error)       {}
func (NopHooks) RolledBack(string, string, error) {}
func (NopHooks) FilterFallback(string, string)    {}

// MultiHooks fans every event out to each member in order.
type MultiHooks []Hooks

var _ Hooks = MultiHooks(nil)

func (m MultiHooks) Hit(dt string) {
	for _, h := range m {
		h.Hit(dt)
	}
}

func (m MultiHooks) Miss(dt string) {
	for _, h := range m {
		h.Miss(dt)
	}
}

func (m MultiHooks) Coalesced(dt string) {
	for _, h := range m {
		h.Coalesced(dt)
	}
}

func (m MultiHooks) Evicted(dt, key string) {
	for _, h := range m {
		h.Evicted(dt, key)
	}
}

func (m MultiHooks) Expired(dt string, n int) {
	for _, h := range m {
		h.Expired(dt, n)
	}
}

func (m MultiHooks) SelfHeal(dt, key, reason string) {
	for _, h := range m {
		h.SelfHeal(dt, key, reason)
	}
}

func (m MultiHooks) BatchMissing(dt string, n int) {
	for _, h := range m {
		h.BatchMissing(dt, n)
	}
}

func (m MultiHooks) PersistCorrupt(key, reason string) {
	for _, h := range m {
		h.PersistCorrupt(key, reason)
	}
}

func (m MultiHooks) PersistError(op string, err error) {
	for _, h := range m {
		h.PersistError(op, err)
	}
}

func (m MultiHooks) RolledBack(dt, key string, err error) {
	for _, h := range m {
		h.RolledBack(dt, key, err)
	}
}

func (m MultiHooks) FilterFallback(dt, reason string) {
	for _, h := range m {
		h.FilterFallback(dt, reason)
	}
}
