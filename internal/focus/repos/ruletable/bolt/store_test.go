package bolt

import (
	"errors"
	"path/filepath"
	"testing"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-focus/internal/focus/domain"
)

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "rules.db")
}

func rule(id int, host string) domain.Rule {
	return domain.Rule{
		ID:            id,
		HostPattern:   "*://*." + host + "/*",
		Host:          host,
		ResourceKinds: []domain.ResourceKind{domain.ResourceMainFrame},
		Action:        domain.BlockAction{Type: domain.ActionBlock},
	}
}

func TestBoltStore_CommitAndLoad(t *testing.T) {
	st, err := New(tempDB(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	got, err := st.Load()
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty store, got %v err=%v", got, err)
	}

	// IDs above 255 check numeric (not lexical) key ordering.
	if err := st.Commit(nil, []domain.Rule{rule(300, "c.com"), rule(2, "b.com"), rule(1, "a.com")}, 1000); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err = st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 3 || got[0].ID != 1 || got[1].ID != 2 || got[2].ID != 300 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if !got[0].Equal(rule(1, "a.com")) {
		t.Fatalf("round trip mismatch: %+v", got[0])
	}

	if err := st.Commit([]int{1, 2, 300}, []domain.Rule{rule(1, "z.com")}, 2000); err != nil {
		t.Fatalf("Commit replace: %v", err)
	}
	got, _ = st.Load()
	if len(got) != 1 || got[0].Host != "z.com" {
		t.Fatalf("unexpected after replace: %+v", got)
	}

	stats := st.Stats()
	if stats.RuleCount != 1 || stats.Version != 2 || stats.UpdatedUnix != 2000 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := tempDB(t)
	st, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := st.Commit(nil, []domain.Rule{rule(1, "a.com")}, 1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	got, err := st.Load()
	if err != nil || len(got) != 1 || got[0].Host != "a.com" {
		t.Fatalf("expected persisted rule, got %+v err=%v", got, err)
	}
}

func TestBoltStore_RemoveUnknownIDIsNoop(t *testing.T) {
	st, err := New(tempDB(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Commit([]int{42}, nil, 1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

type fakeBucketCreator struct{ errs map[string]error }

func (f fakeBucketCreator) CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error) {
	if err := f.errs[string(name)]; err != nil {
		return nil, err
	}
	return nil, nil
}

func TestNew_EnsureBucketsErrors(t *testing.T) {
	for _, fail := range []string{string(bucketRules), string(bucketMeta)} {
		t.Run(fail, func(t *testing.T) {
			old := ensureBucketsFn
			ensureBucketsFn = func(bucketCreator) error {
				return ensureBuckets(fakeBucketCreator{errs: map[string]error{fail: errors.New("boom")}})
			}
			defer func() { ensureBucketsFn = old }()

			st, err := New(tempDB(t))
			if err == nil || st != nil {
				t.Fatalf("expected error from New when %s fails", fail)
			}
		})
	}
}

func TestNew_BadPath(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "dir", "rules.db")); err == nil {
		t.Fatalf("expected error for unwritable path")
	}
}
