package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trapline/internal/database"
	"github.com/aristath/trapline/internal/events"
	testingpkg "github.com/aristath/trapline/internal/testing"
)

// fakeStore is an in-memory ObjectStore capturing uploads and deletes.
type fakeStore struct {
	objects []StoredObject
	uploads map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[string][]byte)}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	f.objects = append(f.objects, StoredObject{Key: key, Size: int64(len(data))})
	return nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]StoredObject, error) {
	var out []StoredObject
	for _, obj := range f.objects {
		if strings.HasPrefix(obj.Key, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	for i, obj := range f.objects {
		if obj.Key == key {
			f.objects = append(f.objects[:i], f.objects[i+1:]...)
			break
		}
	}
	return nil
}

func archiveKey(ts time.Time) string {
	return archivePrefix + ts.UTC().Format(timestampLayout) + ".tar.gz"
}

func TestCreateAndUploadBackup(t *testing.T) {
	universeDB, cleanupU := testingpkg.NewTestDB(t, "universe")
	t.Cleanup(cleanupU)
	decisionsDB, cleanupD := testingpkg.NewTestDB(t, "decisions")
	t.Cleanup(cleanupD)
	_, err := decisionsDB.Conn().Exec(
		"INSERT INTO runs (id, run_date, started_at) VALUES ('run-1', '2026-03-06', '2026-03-06T22:10:00Z')")
	require.NoError(t, err)

	store := newFakeStore()
	bus := events.NewBus(zerolog.Nop())
	var captured []*events.Event
	bus.SubscribeAll(func(e *events.Event) { captured = append(captured, e) })

	dataDir := t.TempDir()
	svc := NewBackupService(map[string]*database.DB{
		"universe":  universeDB,
		"decisions": decisionsDB,
	}, store, dataDir, bus, zerolog.Nop())

	info, err := svc.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, strings.HasPrefix(info.Filename, archivePrefix))
	assert.True(t, strings.HasSuffix(info.Filename, ".tar.gz"))
	assert.Greater(t, info.SizeBytes, int64(0))

	// The staging directory is cleaned up after upload.
	_, err = os.Stat(filepath.Join(dataDir, "backup-staging"))
	assert.True(t, os.IsNotExist(err))

	// Unpack the uploaded archive and check its contents.
	data, ok := store.uploads[info.Filename]
	require.True(t, ok)
	assert.Equal(t, info.SizeBytes, int64(len(data)))

	contents := untar(t, data)
	require.Contains(t, contents, "universe.db")
	require.Contains(t, contents, "decisions.db")
	require.Contains(t, contents, "backup-metadata.json")

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(contents["backup-metadata.json"], &metadata))
	require.Len(t, metadata.Databases, 2)
	assert.Equal(t, "decisions", metadata.Databases[0].Name)
	assert.Equal(t, "universe", metadata.Databases[1].Name)
	for _, db := range metadata.Databases {
		assert.True(t, strings.HasPrefix(db.Checksum, "sha256:"))
		assert.Equal(t, db.SizeBytes, int64(len(contents[db.Filename])))
	}

	require.Len(t, captured, 1)
	assert.Equal(t, events.BackupCompleted, captured[0].Type)
	completed := captured[0].Data.(*events.BackupCompletedData)
	assert.Equal(t, info.Filename, completed.Archive)
	assert.Equal(t, info.SizeBytes, completed.SizeBytes)
}

func untar(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	contents := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		contents[header.Name] = body
	}
	return contents
}

func TestListBackupsNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	store.objects = []StoredObject{
		{Key: archiveKey(now.Add(-48 * time.Hour)), Size: 100},
		{Key: archiveKey(now.Add(-1 * time.Hour)), Size: 300},
		{Key: archivePrefix + "garbage.tar.gz", Size: 1},
		{Key: "unrelated.txt", Size: 1},
	}

	svc := NewBackupService(nil, store, t.TempDir(), events.NewBus(zerolog.Nop()), zerolog.Nop())
	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)

	require.Len(t, backups, 2)
	assert.Equal(t, int64(300), backups[0].SizeBytes)
	assert.Equal(t, int64(100), backups[1].SizeBytes)
	assert.GreaterOrEqual(t, backups[1].AgeHours, int64(47))
}

func TestRotateOldBackups(t *testing.T) {
	now := time.Now().UTC()
	fresh := []time.Time{
		now.Add(-1 * time.Hour),
		now.Add(-2 * time.Hour),
		now.Add(-3 * time.Hour),
	}
	stale := []time.Time{
		now.AddDate(0, 0, -40),
		now.AddDate(0, 0, -50),
	}

	store := newFakeStore()
	for _, ts := range append(append([]time.Time{}, fresh...), stale...) {
		store.objects = append(store.objects, StoredObject{Key: archiveKey(ts), Size: 10})
	}

	svc := NewBackupService(nil, store, t.TempDir(), events.NewBus(zerolog.Nop()), zerolog.Nop())

	deleted, err := svc.RotateOldBackups(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.ElementsMatch(t, []string{archiveKey(stale[0]), archiveKey(stale[1])}, store.deleted)

	remaining, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}

func TestRotateKeepsMinimumRegardlessOfAge(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	for i := 1; i <= 3; i++ {
		store.objects = append(store.objects, StoredObject{
			Key: archiveKey(now.AddDate(0, 0, -100*i)),
		})
	}

	svc := NewBackupService(nil, store, t.TempDir(), events.NewBus(zerolog.Nop()), zerolog.Nop())
	deleted, err := svc.RotateOldBackups(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.Empty(t, store.deleted)
}

func TestRotateRetentionZeroKeepsEverything(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore()
	for i := 1; i <= 5; i++ {
		store.objects = append(store.objects, StoredObject{
			Key: archiveKey(now.AddDate(0, 0, -100*i)),
		})
	}

	svc := NewBackupService(nil, store, t.TempDir(), events.NewBus(zerolog.Nop()), zerolog.Nop())
	deleted, err := svc.RotateOldBackups(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
