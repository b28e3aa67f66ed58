package migration

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	// :memory: は接続ごとに別のDBになるため1接続に固定する
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestRun はRun関数を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/README.md": {Data: []byte("ignored")},
	}
	fsys["migrations/000002_add_index.up.sql"] = &fstest.MapFile{Data: []byte("CREATE INDEX idx_items_name ON items(name);")}
	fsys["migrations/000001_create_items.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY, name TEXT);")}
	fsys["migrations/000001_create_items.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE items;")}

	t.Run("バージョン順に全て適用されること", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		n, err := Run(t.Context(), db, fsys, "migrations", zap.NewNop())
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("適用数 = %d, want 2", n)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの取得に失敗: %v", err)
		}
		if count != 2 {
			t.Errorf("記録されたバージョン数 = %d, want 2", count)
		}
	})

	t.Run("2回目の実行では何も適用されないこと", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		if _, err := Run(t.Context(), db, fsys, "migrations", zap.NewNop()); err != nil {
			t.Fatalf("1回目のRun()でエラーが発生: %v", err)
		}
		n, err := Run(t.Context(), db, fsys, "migrations", zap.NewNop())
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if n != 0 {
			t.Errorf("適用数 = %d, want 0", n)
		}
	})

	t.Run("不正なSQLはエラーになり記録されないこと", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte("CREATE TABLE (;")},
		}
		if _, err := Run(t.Context(), db, broken, "m", zap.NewNop()); err == nil {
			t.Fatal("不正なSQLでエラーが返るべき")
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("記録されたバージョン数 = %d, want 0", count)
		}
	})

	t.Run("バージョンが重複している場合はエラーになること", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		dup := fstest.MapFS{
			"m/000001_a.up.sql": {Data: []byte("SELECT 1;")},
			"m/000001_b.up.sql": {Data: []byte("SELECT 1;")},
		}
		if _, err := Run(t.Context(), db, dup, "m", zap.NewNop()); err == nil {
			t.Fatal("重複バージョンでエラーが返るべき")
		}
	})
}
