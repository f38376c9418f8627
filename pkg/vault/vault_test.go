package vault

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/forest6511/clipvault/pkg/crypto"
)

const testPassword = "correct horse battery"

func testOptions() Options {
	return Options{KDF: crypto.KDFParams{Time: 1, Memory: 64, Threads: 1}}
}

// testVault creates an unlocked vault in a temp dir.
func testVault(t *testing.T) *Vault {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clipvault.db")
	v, err := Create(context.Background(), path, []byte(testPassword), testOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func mustInsert(t *testing.T, v *Vault, content string, ts int64) Item {
	t.Helper()
	it, err := v.Insert(context.Background(), Item{Content: []byte(content), ContentType: "text/plain", Timestamp: ts})
	if err != nil {
		t.Fatalf("Insert(%q) failed: %v", content, err)
	}
	return it
}

func contents(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = string(it.Content)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func ptr(n int64) *int64 { return &n }

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "clipvault.db")
	ctx := context.Background()

	v, err := Create(ctx, path, []byte(testPassword), testOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer v.Close()

	if v.IsLocked() {
		t.Error("expected a freshly created vault to be unlocked")
	}
	if v.Path() != path {
		t.Errorf("Path() = %s, want %s", v.Path(), path)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("vault file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != FileMode {
			t.Errorf("vault file permissions = %04o, want %04o", perm, FileMode)
		}
	}

	if _, err := Create(ctx, path, []byte("other password"), testOptions()); err != ErrAlreadyExists {
		t.Errorf("second Create error = %v, want %v", err, ErrAlreadyExists)
	}
	// the existing vault must survive the failed create
	if _, err := v.Count(ctx); err != nil {
		t.Errorf("Count after failed Create: %v", err)
	}
}

func TestCreateRejectsEmptyPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipvault.db")
	if _, err := Create(context.Background(), path, nil, testOptions()); err != ErrEmptyPassword {
		t.Errorf("Create error = %v, want %v", err, ErrEmptyPassword)
	}
	if Exists(path) {
		t.Error("rejected Create should not leave a file behind")
	}
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipvault.db")
	ctx := context.Background()

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Create(ctx, path, []byte(fmt.Sprintf("password-%d", i)), testOptions())
			if err == nil {
				v.Close()
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyExists):
		default:
			t.Errorf("unexpected Create error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one successful Create, got %d", winners)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	mustInsert(t, v, "persisted", 0)
	path := v.Path()
	if err := v.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(ctx, path, []byte(testPassword), testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close()

	latest, err := reopened.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if string(latest.Content) != "persisted" {
		t.Errorf("Latest() = %q, want %q", latest.Content, "persisted")
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v := testVault(t)
	path := v.Path()
	v.Close()

	garbage := filepath.Join(dir, "garbage.db")
	if err := os.WriteFile(garbage, bytes.Repeat([]byte("not a database "), 512), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	foreign := filepath.Join(dir, "foreign.db")
	db, err := sql.Open("sqlite", foreign)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE notes (body TEXT)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	db.Close()

	tests := []struct {
		name     string
		path     string
		password string
		wantErr  error
	}{
		{"missing file", filepath.Join(dir, "missing.db"), testPassword, ErrVaultNotFound},
		{"wrong password", path, "wrong password", ErrWrongPassword},
		{"not a database", garbage, testPassword, ErrCorrupt},
		{"sqlite file without header", foreign, testPassword, ErrCorrupt},
		{"directory", dir, testPassword, ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Open(ctx, tt.path, []byte(tt.password), testOptions())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
			if got != nil {
				got.Close()
				t.Error("Open() returned a vault on failure")
			}
		})
	}
}

func TestOpenRejectsUnknownFormatVersion(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	path := v.Path()
	v.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec(`UPDATE vault_header SET format_version = 99`); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	db.Close()

	if _, err := Open(ctx, path, []byte(testPassword), testOptions()); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Open() error = %v, want %v", err, ErrCorrupt)
	}
}

func TestOpenWithTamperedDataKey(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	path := v.Path()
	v.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec(`UPDATE vault_header SET encrypted_dek = zeroblob(60)`); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	db.Close()

	if _, err := Open(ctx, path, []byte(testPassword), testOptions()); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Open() error = %v, want %v", err, ErrCorrupt)
	}
}

func TestDeriveKeyAndOpenWithKey(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	mustInsert(t, v, "via session key", 0)
	path := v.Path()
	v.Close()

	if _, err := DeriveKey(ctx, path, []byte("nope"), testOptions()); err != ErrWrongPassword {
		t.Errorf("DeriveKey() error = %v, want %v", err, ErrWrongPassword)
	}

	key, err := DeriveKey(ctx, path, []byte(testPassword), testOptions())
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	reopened, err := OpenWithKey(ctx, path, key, testOptions())
	if err != nil {
		t.Fatalf("OpenWithKey failed: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("Count() = %d, %v; want 1", n, err)
	}

	wrongKey := make([]byte, crypto.KeyLength)
	if _, err := OpenWithKey(ctx, path, wrongKey, testOptions()); err != ErrWrongPassword {
		t.Errorf("OpenWithKey() error = %v, want %v", err, ErrWrongPassword)
	}
}

func TestClosedVaultIsLocked(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	it := mustInsert(t, v, "x", 0)
	if err := v.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if !v.IsLocked() {
		t.Error("expected vault to be locked after Close")
	}

	checks := map[string]error{}
	_, checks["Insert"] = v.Insert(ctx, Item{Content: []byte("y")})
	_, checks["Update"] = v.Update(ctx, it.ContentHash, []byte("z"))
	checks["Delete"] = v.Delete(ctx, it.ContentHash)
	_, checks["Get"] = v.Get(ctx, it.ContentHash)
	_, _, checks["List"] = v.List(ctx, 10, nil)
	_, _, checks["Search"] = v.Search(ctx, "x", 10, nil)
	_, checks["Latest"] = v.Latest(ctx)
	_, checks["Count"] = v.Count(ctx)
	_, checks["Wipe"] = v.Wipe(ctx)
	_, checks["DataVersion"] = v.DataVersion(ctx)
	_, checks["Settings"] = v.Settings(ctx)
	checks["Backup"] = v.Backup(ctx, filepath.Join(t.TempDir(), "b.db"))
	checks["ChangePassword"] = v.ChangePassword(ctx, []byte(testPassword), []byte("new"))

	for name, err := range checks {
		if err != ErrVaultLocked {
			t.Errorf("%s after Close error = %v, want %v", name, err, ErrVaultLocked)
		}
	}
}

func TestInsertDeduplicates(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	first := mustInsert(t, v, "same", 100)
	second := mustInsert(t, v, "same", 200)
	third := mustInsert(t, v, "same", 300)

	if first.ContentHash != second.ContentHash || second.ContentHash != third.ContentHash {
		t.Error("identical content should share a content hash")
	}
	if first.ContentHash != HashContent([]byte("same")) {
		t.Errorf("ContentHash = %s, want sha256 of content", first.ContentHash)
	}

	n, err := v.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after three identical inserts, want 1", n)
	}

	latest, err := v.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Timestamp != 300 {
		t.Errorf("Latest().Timestamp = %d, want 300 (timestamp of the last capture)", latest.Timestamp)
	}
}

func TestInsertUpdatesContentType(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	mustInsert(t, v, "<b>hi</b>", 100)
	if _, err := v.Insert(ctx, Item{Content: []byte("<b>hi</b>"), ContentType: "text/html", Timestamp: 200}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	got, err := v.Get(ctx, HashContent([]byte("<b>hi</b>")))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ContentType != "text/html" {
		t.Errorf("ContentType = %q, want text/html", got.ContentType)
	}
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	if _, err := v.Insert(ctx, Item{}); err != ErrEmptyContent {
		t.Errorf("Insert(empty) error = %v, want %v", err, ErrEmptyContent)
	}
	big := make([]byte, MaxContentSize+1)
	if _, err := v.Insert(ctx, Item{Content: big}); !errors.Is(err, ErrContentTooLarge) {
		t.Errorf("Insert(too large) error = %v, want %v", err, ErrContentTooLarge)
	}

	it, err := v.Insert(ctx, Item{Content: []byte("no type")})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if it.ContentType != DefaultContentType {
		t.Errorf("ContentType = %q, want %q", it.ContentType, DefaultContentType)
	}
}

// Mirrors the documented example: two captures of "hello" and one of "world".
func TestListScenario(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	mustInsert(t, v, "hello", 100)
	mustInsert(t, v, "hello", 200)
	mustInsert(t, v, "world", 300)

	items, hasMore, err := v.List(ctx, 10, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !equalStrings(contents(items), []string{"world", "hello"}) {
		t.Errorf("List() = %v, want [world hello]", contents(items))
	}
	if items[0].Timestamp != 300 || items[1].Timestamp != 200 {
		t.Errorf("timestamps = %d, %d; want 300, 200", items[0].Timestamp, items[1].Timestamp)
	}
	if hasMore {
		t.Error("hasMore = true, want false")
	}

	items, hasMore, err = v.List(ctx, 1, ptr(300))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !equalStrings(contents(items), []string{"hello"}) {
		t.Errorf("List(after=300) = %v, want [hello]", contents(items))
	}
	if hasMore {
		t.Error("hasMore = true after the last item, want false")
	}
}

func TestListPaginationIsComplete(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	const total = 23
	for i := 0; i < total; i++ {
		mustInsert(t, v, fmt.Sprintf("item-%02d", i), int64(1000+i*10))
	}

	for _, pageSize := range []int{1, 5, 7, 23, 50} {
		t.Run(fmt.Sprintf("page size %d", pageSize), func(t *testing.T) {
			seen := map[string]bool{}
			var cursor *int64
			var last int64 = 1 << 62
			pages := 0
			for {
				items, hasMore, err := v.List(ctx, pageSize, cursor)
				if err != nil {
					t.Fatalf("List failed: %v", err)
				}
				pages++
				for _, it := range items {
					if seen[it.ContentHash] {
						t.Fatalf("item %q returned twice", it.Content)
					}
					if it.Timestamp >= last {
						t.Fatalf("timestamps not strictly decreasing: %d after %d", it.Timestamp, last)
					}
					seen[it.ContentHash] = true
					last = it.Timestamp
				}
				if !hasMore {
					break
				}
				cursor = ptr(items[len(items)-1].Timestamp)
				if pages > total+1 {
					t.Fatal("pagination did not terminate")
				}
			}
			if len(seen) != total {
				t.Errorf("visited %d items, want %d", len(seen), total)
			}
		})
	}
}

func TestListUnlimited(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	for i := 0; i < 5; i++ {
		mustInsert(t, v, fmt.Sprintf("%d", i), 0)
	}
	items, hasMore, err := v.List(ctx, 0, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 5 || hasMore {
		t.Errorf("List(0) returned %d items, hasMore=%v; want 5, false", len(items), hasMore)
	}
}

func TestCaptureTimestampsAreStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	frozen := time.Unix(1700000000, 0)
	opts.Clock = func() time.Time { return frozen }

	v, err := Create(ctx, filepath.Join(t.TempDir(), "clipvault.db"), []byte(testPassword), opts)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer v.Close()

	var prev int64
	for i := 0; i < 5; i++ {
		it := mustInsert(t, v, fmt.Sprintf("capture %d", i), 0)
		if it.Timestamp <= prev {
			t.Fatalf("capture %d got timestamp %d, not after %d", i, it.Timestamp, prev)
		}
		prev = it.Timestamp
	}

	// a recapture of old content becomes the newest item
	again := mustInsert(t, v, "capture 0", 0)
	latest, err := v.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ContentHash != again.ContentHash {
		t.Errorf("Latest() = %q, want the recaptured item", latest.Content)
	}
}

func TestExplicitTimestampCollision(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	a := mustInsert(t, v, "a", 500)
	b := mustInsert(t, v, "b", 500)
	if a.Timestamp == b.Timestamp {
		t.Fatalf("two items share timestamp %d", a.Timestamp)
	}
	items, _, err := v.List(ctx, 0, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("List() returned %d items, want 2", len(items))
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	old := mustInsert(t, v, "draft", 100)
	mustInsert(t, v, "other", 200)

	updated, err := v.Update(ctx, old.ContentHash, []byte("final"))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.ContentHash != HashContent([]byte("final")) {
		t.Error("Update should re-derive the content hash")
	}
	if updated.ContentType != "text/plain" {
		t.Errorf("ContentType = %q, want it preserved", updated.ContentType)
	}
	if updated.Timestamp <= 200 {
		t.Errorf("Timestamp = %d, want it bumped above 200", updated.Timestamp)
	}

	if _, err := v.Get(ctx, old.ContentHash); err != ErrNotFound {
		t.Errorf("Get(old hash) error = %v, want %v", err, ErrNotFound)
	}
	latest, err := v.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if string(latest.Content) != "final" {
		t.Errorf("Latest() = %q, want %q", latest.Content, "final")
	}

	if _, err := v.Update(ctx, old.ContentHash, []byte("again")); err != ErrNotFound {
		t.Errorf("Update(missing) error = %v, want %v", err, ErrNotFound)
	}
	if _, err := v.Update(ctx, "not-a-hash", []byte("x")); err != ErrInvalidHash {
		t.Errorf("Update(bad hash) error = %v, want %v", err, ErrInvalidHash)
	}
}

func TestUpdateIntoExistingContentMerges(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	a := mustInsert(t, v, "alpha", 100)
	mustInsert(t, v, "beta", 200)

	if _, err := v.Update(ctx, a.ContentHash, []byte("beta")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	n, err := v.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1 (one row per content hash)", n)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	it := mustInsert(t, v, "to delete", 0)
	if err := v.Delete(ctx, it.ContentHash); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := v.Delete(ctx, it.ContentHash); err != ErrNotFound {
		t.Errorf("second Delete error = %v, want %v", err, ErrNotFound)
	}
	if _, err := v.Latest(ctx); err != ErrNotFound {
		t.Errorf("Latest() on empty vault error = %v, want %v", err, ErrNotFound)
	}
	if err := v.Delete(ctx, "zz"); err != ErrInvalidHash {
		t.Errorf("Delete(bad hash) error = %v, want %v", err, ErrInvalidHash)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	mustInsert(t, v, "Hello World", 100)
	mustInsert(t, v, "goodbye", 200)
	mustInsert(t, v, "HELLO again", 300)
	mustInsert(t, v, "École", 400)
	if _, err := v.Insert(ctx, Item{Content: []byte{0x89, 'P', 'N', 'G', 'h', 'e', 'l', 'l', 'o'}, ContentType: "image/png", Timestamp: 500}); err != nil {
		t.Fatalf("Insert image failed: %v", err)
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"hello", []string{"HELLO again", "Hello World"}},
		{"WORLD", []string{"Hello World"}},
		{"éCOLE", []string{"École"}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			items, hasMore, err := v.Search(ctx, tt.query, 10, nil)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if !equalStrings(contents(items), tt.want) {
				t.Errorf("Search(%q) = %v, want %v", tt.query, contents(items), tt.want)
			}
			if hasMore {
				t.Error("hasMore = true, want false")
			}
		})
	}

	images, _, err := v.Search(ctx, "png", 10, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(images) != 1 || images[0].ContentType != "image/png" {
		t.Errorf("Search(png) should match the image by content type, got %d items", len(images))
	}

	all, _, err := v.Search(ctx, "   ", 10, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("blank Search returned %d items, want all 5", len(all))
	}
}

func TestSearchPagination(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	for i := 0; i < 600; i++ {
		content := fmt.Sprintf("noise %d", i)
		if i%50 == 0 {
			content = fmt.Sprintf("needle %d", i)
		}
		mustInsert(t, v, content, int64(i+1))
	}

	var cursor *int64
	found := 0
	for {
		items, hasMore, err := v.Search(ctx, "needle", 4, cursor)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		found += len(items)
		if !hasMore {
			break
		}
		cursor = ptr(items[len(items)-1].Timestamp)
	}
	if found != 12 {
		t.Errorf("paged search found %d needles, want 12", found)
	}
}

func TestContentIsEncryptedOnDisk(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	marker := "super-secret-clipboard-marker"
	mustInsert(t, v, marker, 0)
	path := v.Path()
	v.Close()

	for _, p := range []string{path, path + "-wal"} {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if bytes.Contains(data, []byte(marker)) {
			t.Errorf("%s contains plaintext content", filepath.Base(p))
		}
		if bytes.Contains(data, []byte(HashContent([]byte(marker)))) {
			t.Errorf("%s contains the plaintext content hash", filepath.Base(p))
		}
	}

	reopened, err := Open(ctx, path, []byte(testPassword), testOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close()
	latest, err := reopened.Latest(ctx)
	if err != nil || string(latest.Content) != marker {
		t.Errorf("Latest() = %q, %v; want %q", latest.Content, err, marker)
	}
}

func TestWipe(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	for i := 0; i < 3; i++ {
		mustInsert(t, v, fmt.Sprintf("%d", i), 0)
	}
	n, err := v.Wipe(ctx)
	if err != nil {
		t.Fatalf("Wipe failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Wipe() = %d, want 3", n)
	}
	if c, _ := v.Count(ctx); c != 0 {
		t.Errorf("Count() after Wipe = %d, want 0", c)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	mustInsert(t, v, "survives", 0)
	path := v.Path()

	if err := v.ChangePassword(ctx, []byte("wrong"), []byte("new password")); err != ErrWrongPassword {
		t.Errorf("ChangePassword(wrong old) error = %v, want %v", err, ErrWrongPassword)
	}
	if err := v.ChangePassword(ctx, []byte(testPassword), []byte("new password")); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	v.Close()

	if _, err := Open(ctx, path, []byte(testPassword), testOptions()); err != ErrWrongPassword {
		t.Errorf("Open(old password) error = %v, want %v", err, ErrWrongPassword)
	}
	reopened, err := Open(ctx, path, []byte("new password"), testOptions())
	if err != nil {
		t.Fatalf("Open(new password) failed: %v", err)
	}
	defer reopened.Close()
	latest, err := reopened.Latest(ctx)
	if err != nil || string(latest.Content) != "survives" {
		t.Errorf("Latest() = %q, %v; want %q", latest.Content, err, "survives")
	}
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	mustInsert(t, v, "backed up", 0)

	dest := filepath.Join(t.TempDir(), "backup", "copy.db")
	if err := v.Backup(ctx, dest); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	if err := v.Backup(ctx, dest); err != ErrAlreadyExists {
		t.Errorf("second Backup error = %v, want %v", err, ErrAlreadyExists)
	}

	copyVault, err := Open(ctx, dest, []byte(testPassword), testOptions())
	if err != nil {
		t.Fatalf("Open(backup) failed: %v", err)
	}
	defer copyVault.Close()
	latest, err := copyVault.Latest(ctx)
	if err != nil || string(latest.Content) != "backed up" {
		t.Errorf("backup Latest() = %q, %v", latest.Content, err)
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	s, err := v.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if s != DefaultSettings() {
		t.Errorf("Settings() = %+v, want defaults", s)
	}
	if s.PollInterval() != 100*time.Millisecond || s.AutoLock() != time.Hour {
		t.Errorf("durations = %v, %v", s.PollInterval(), s.AutoLock())
	}

	s.PollIntervalMS = 250
	if err := v.UpdateSettings(ctx, s); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	got, _ := v.Settings(ctx)
	if got.PollIntervalMS != 250 {
		t.Errorf("PollIntervalMS = %d, want 250", got.PollIntervalMS)
	}

	s.PollIntervalMS = 1
	if err := v.UpdateSettings(ctx, s); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("UpdateSettings(1ms) error = %v, want ErrInvalidSettings", err)
	}
}

func TestDataVersionTracksOtherHandles(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	key, err := DeriveKey(ctx, v.Path(), []byte(testPassword), testOptions())
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	other, err := OpenWithKey(ctx, v.Path(), key, testOptions())
	if err != nil {
		t.Fatalf("OpenWithKey failed: %v", err)
	}
	defer other.Close()

	before, err := v.DataVersion(ctx)
	if err != nil {
		t.Fatalf("DataVersion failed: %v", err)
	}
	mustInsert(t, v, "own write", 0)
	own, _ := v.DataVersion(ctx)
	if own != before {
		t.Errorf("own commit changed data_version from %d to %d", before, own)
	}

	mustInsert(t, other, "foreign write", 0)
	after, err := v.DataVersion(ctx)
	if err != nil {
		t.Fatalf("DataVersion failed: %v", err)
	}
	if after == before {
		t.Error("commit from another handle did not change data_version")
	}
}

func TestConcurrentHandles(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	key, err := DeriveKey(ctx, v.Path(), []byte(testPassword), testOptions())
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}

	const writers, perWriter = 3, 20
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		h, err := OpenWithKey(ctx, v.Path(), key, testOptions())
		if err != nil {
			t.Fatalf("OpenWithKey failed: %v", err)
		}
		defer h.Close()
		wg.Add(1)
		go func(w int, h *Vault) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := h.Insert(ctx, Item{Content: []byte(fmt.Sprintf("w%d-%d", w, i))}); err != nil {
					errs <- err
				}
			}
		}(w, h)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Insert failed: %v", err)
	}

	n, err := v.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != writers*perWriter {
		t.Errorf("Count() = %d, want %d", n, writers*perWriter)
	}
}

func TestCheckIntegrity(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	mustInsert(t, v, "fine", 0)

	res, err := v.CheckIntegrity(ctx)
	if err != nil {
		t.Fatalf("CheckIntegrity failed: %v", err)
	}
	if !res.DBIntegrity || !res.HeaderValid || res.Items != 1 || res.Undecryptable != 0 {
		t.Errorf("CheckIntegrity() = %+v", res)
	}

	if _, err := v.db.Exec(`UPDATE items SET content = zeroblob(40)`); err != nil {
		t.Fatalf("tamper failed: %v", err)
	}
	res, err = v.CheckIntegrity(ctx)
	if err != nil {
		t.Fatalf("CheckIntegrity failed: %v", err)
	}
	if res.Valid || res.Undecryptable != 1 {
		t.Errorf("tampered CheckIntegrity() = %+v, want one undecryptable item", res)
	}
	if _, _, err := v.List(ctx, 10, nil); !errors.Is(err, ErrCorrupt) {
		t.Errorf("List() over tampered item error = %v, want %v", err, ErrCorrupt)
	}
}

func TestSchemaVersion(t *testing.T) {
	v := testVault(t)
	version, err := v.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("SchemaVersion() = %d, want 1", version)
	}
}

func TestClassify(t *testing.T) {
	plain := errors.New("disk on fire")
	if err := classify("op", plain); !errors.Is(err, ErrIO) || !errors.Is(err, plain) {
		t.Errorf("classify(plain) = %v, want ErrIO wrapping the cause", err)
	}
	if err := classify("op", ErrNotFound); err != ErrNotFound {
		t.Errorf("classify(ErrNotFound) = %v, want it unchanged", err)
	}
	if err := classify("op", context.Canceled); err != context.Canceled {
		t.Errorf("classify(Canceled) = %v, want it unchanged", err)
	}
	if err := classify("op", nil); err != nil {
		t.Errorf("classify(nil) = %v", err)
	}
}

func TestValidateMasterPassword(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
		strength PasswordStrength
	}{
		{"", false, PasswordWeak},
		{"short", false, PasswordWeak},
		{"alllowercase", true, PasswordFair},
		{"abcdefgh", true, PasswordWeak},
		{"Abcdefgh1234", true, PasswordGood},
		{"Correct-Horse-Battery-9", true, PasswordStrong},
		{string(make([]byte, MaxPasswordLength+1)), false, PasswordWeak},
	}
	for _, tt := range tests {
		res := ValidateMasterPassword(tt.password)
		if res.Valid != tt.valid || res.Strength != tt.strength {
			t.Errorf("ValidateMasterPassword(%q) = valid %v strength %v; want %v %v",
				tt.password, res.Valid, res.Strength, tt.valid, tt.strength)
		}
	}
}
