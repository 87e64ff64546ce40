package archive_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purepulse/purepulse/internal/archive"
)

const tsLayout = "2006-01-02T15:04:05Z"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestEnsureExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patras", "pm", "1234.csv")
	a := archive.New(path)

	require.NoError(t, a.EnsureExists())
	empty, err := a.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	// Idempotent and does not truncate.
	writeFile(t, path, "time_stamp\n2024-01-01T00:00:00Z\n")
	require.NoError(t, a.EnsureExists())
	assert.Equal(t, "time_stamp\n2024-01-01T00:00:00Z\n", readFile(t, path))
}

func TestEnsureExists_StorageError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	writeFile(t, blocker, "x")

	err := archive.New(filepath.Join(blocker, "child", "a.csv")).EnsureExists()
	assert.ErrorIs(t, err, archive.ErrStorage)
}

func TestIsEmpty_NotFound(t *testing.T) {
	_, err := archive.New(filepath.Join(t.TempDir(), "missing.csv")).IsEmpty()
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestLastKey(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    time.Time
		ok      bool
		err     error
	}{
		{name: "empty file", content: "", ok: false},
		{name: "header only", content: "time_stamp,pm2.5\n", ok: false},
		{name: "column absent", content: "other\n1\n", ok: false},
		{name: "all blank", content: "time_stamp,pm\n,1\n,2\n", ok: false},
		{
			name:    "greatest value wins",
			content: "pm,time_stamp\n1,2024-01-02T00:00:00Z\n2,2024-01-03T10:00:00Z\n3,\n4,2024-01-01T00:00:00Z\n",
			want:    time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC),
			ok:      true,
		},
		{name: "unparsable", content: "time_stamp\nyesterday\n", err: archive.ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".csv")
			writeFile(t, path, tt.content)

			got, ok, err := archive.New(path).LastKey("time_stamp", tsLayout)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got))
			}
		})
	}
}

func TestLastKey_NotFound(t *testing.T) {
	_, _, err := archive.New(filepath.Join(t.TempDir(), "nope.csv")).LastKey("time_stamp", tsLayout)
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestDedup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	writeFile(t, path, "time_stamp,pm\nt1,1\nt2,2\n")
	a := archive.New(path)

	batch := archive.NewTable("time_stamp", "pm")
	batch.Append("t2", "20")
	batch.Append("t3", "3")
	batch.Append("t1", "10")
	batch.Append("t4", "4")
	batch.Append("t3", "30")

	out, err := a.Dedup(batch, "time_stamp")
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t4"}, out.Values("time_stamp"))
	assert.Equal(t, []string{"3", "4"}, out.Values("pm"), "first occurrence in the batch wins")

	again, err := a.Dedup(out, "time_stamp")
	require.NoError(t, err)
	assert.Equal(t, out.Rows, again.Rows, "dedup is idempotent on the same archive state")
}

func TestDedup_EmptyArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	a := archive.New(path)
	require.NoError(t, a.EnsureExists())

	batch := archive.NewTable("time_stamp", "pm")
	batch.Append("t1", "1")
	batch.Append("t2", "2")
	batch.Append("t1", "1")

	out, err := a.Dedup(batch, "time_stamp")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, out.Values("time_stamp"))

	_, err = a.Append(out)
	require.NoError(t, err)
	assert.Equal(t, "time_stamp,pm\nt1,1\nt2,2\n", readFile(t, path))
}

func TestDedup_EmptyArchiveBatchWithoutKeyColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	a := archive.New(path)
	require.NoError(t, a.EnsureExists())

	batch := archive.NewTable("x")
	batch.Append("1")

	out, err := a.Dedup(batch, "time_stamp")
	require.NoError(t, err)
	assert.Same(t, batch, out)
}

func TestDedup_ArchiveWithoutKeyColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	writeFile(t, path, "other\n1\n")

	batch := archive.NewTable("time_stamp")
	batch.Append("t1")
	batch.Append("t1")

	out, err := archive.New(path).Dedup(batch, "time_stamp")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}

func TestDedup_BatchWithoutKeyColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	writeFile(t, path, "time_stamp\nt1\n")

	batch := archive.NewTable("pm")
	batch.Append("1")

	_, err := archive.New(path).Dedup(batch, "time_stamp")
	assert.ErrorIs(t, err, archive.ErrSchema)
}

func TestAppend_HeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	a := archive.New(path)
	require.NoError(t, a.EnsureExists())

	first := archive.NewTable("time_stamp", "pm")
	first.Append("t1", "1")
	n, err := a.Append(first)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second := archive.NewTable("time_stamp", "pm")
	second.Append("t2", "2")
	_, err = a.Append(second)
	require.NoError(t, err)

	assert.Equal(t, "time_stamp,pm\nt1,1\nt2,2\n", readFile(t, path))
}

func TestAppend_EmptyBatchWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	a := archive.New(path)
	require.NoError(t, a.EnsureExists())

	n, err := a.Append(archive.NewTable("time_stamp"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, readFile(t, path))
}

func TestAppend_ProjectsOntoExistingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	writeFile(t, path, "time_stamp,pm,humidity\nt1,1,50\n")

	batch := archive.NewTable("pm", "time_stamp", "extra")
	batch.Append("2", "t2", "ignored")
	_, err := archive.New(path).Append(batch)
	require.NoError(t, err)

	assert.Equal(t, "time_stamp,pm,humidity\nt1,1,50\nt2,2,\n", readFile(t, path))
}

func TestAppend_RepairsTruncatedLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	writeFile(t, path, "time_stamp,pm\nt1,1")

	batch := archive.NewTable("time_stamp", "pm")
	batch.Append("t2", "2")
	_, err := archive.New(path).Append(batch)
	require.NoError(t, err)

	assert.Equal(t, "time_stamp,pm\nt1,1\nt2,2\n", readFile(t, path))
}

func TestDedupAppend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	writeFile(t, path, "k,v\na,1\nb,2\n")
	a := archive.New(path)

	batch := archive.NewTable("k", "v")
	batch.Append("b", "20")
	batch.Append("c", "3")

	fresh, err := a.Dedup(batch, "k")
	require.NoError(t, err)
	_, err = a.Append(fresh)
	require.NoError(t, err)

	assert.Equal(t, "k,v\na,1\nb,2\nc,3\n", readFile(t, path))

	// Nothing left to add on a second pass.
	fresh, err = a.Dedup(batch, "k")
	require.NoError(t, err)
	assert.Zero(t, fresh.Len())
}

func TestSortBy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	writeFile(t, path, "k,v\nc,3\na,1\nb,2\na,0\n")
	a := archive.New(path)

	require.NoError(t, a.SortBy("k"))
	sorted := readFile(t, path)
	assert.Equal(t, "k,v\na,1\na,0\nb,2\nc,3\n", sorted, "sort is stable")

	require.NoError(t, a.SortBy("k"))
	assert.Equal(t, sorted, readFile(t, path), "sort is idempotent")

	ok, err := a.IsSortedBy("k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSortBy_Errors(t *testing.T) {
	dir := t.TempDir()

	err := archive.New(filepath.Join(dir, "missing.csv")).SortBy("k")
	assert.ErrorIs(t, err, archive.ErrNotFound)

	path := filepath.Join(dir, "a.csv")
	writeFile(t, path, "k\n1\n")
	err = archive.New(path).SortBy("other")
	assert.ErrorIs(t, err, archive.ErrSchema)

	emptyPath := filepath.Join(dir, "empty.csv")
	writeFile(t, emptyPath, "")
	assert.NoError(t, archive.New(emptyPath).SortBy("k"))
}

func TestIsSortedBy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	writeFile(t, path, "k\na\nc\nb\n")

	ok, err := archive.New(path).IsSortedBy("k")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = archive.New(path).IsSortedBy("missing")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTable_InsertColumn(t *testing.T) {
	tbl := archive.NewTable("validTimeLocal", "temperature")
	tbl.Append("t1", "10")
	tbl.Append("t2", "11")

	tbl.InsertColumn(tbl.Column("validTimeLocal"), "referenceDatetimeLocal", "t1")

	assert.Equal(t, []string{"referenceDatetimeLocal", "validTimeLocal", "temperature"}, tbl.Header)
	assert.Equal(t, []string{"t1", "t2", "10"}, []string{tbl.Rows[0][0], tbl.Rows[1][1], tbl.Rows[0][2]})
}

func TestTable_SortBy(t *testing.T) {
	tbl := archive.NewTable("k")
	tbl.Append("b")
	tbl.Append("a")

	require.NoError(t, tbl.SortBy("k"))
	assert.Equal(t, []string{"a", "b"}, tbl.Values("k"))
	assert.ErrorIs(t, tbl.SortBy("missing"), archive.ErrSchema)
}

func TestLocker_SerialisesPerPath(t *testing.T) {
	var l archive.Locker
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("same.csv")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestLayout(t *testing.T) {
	layout := archive.Layout{Root: "data", PMDir: "pm", WeatherDir: "weather"}

	assert.Equal(t, filepath.Join("data", "patras", "pm", "1234.csv"), layout.Sensor("patras", 1234))
	assert.Equal(t,
		filepath.Join("data", "patras", "weather", "IPATRA1", "history_hourly_m.csv"),
		layout.Station("patras", "IPATRA1", "history_hourly_m.csv"))
}
