package db

import "testing"

func TestInsertIgnore(t *testing.T) {
	const insert = `INSERT INTO wallets (user_id, balance) VALUES (?, 0)`
	cases := []struct {
		dialect string
		want    string
	}{
		{dialect: "postgres", want: insert + " ON CONFLICT (user_id) DO NOTHING"},
		{dialect: "sqlite", want: insert + " ON CONFLICT (user_id) DO NOTHING"},
		{dialect: "mysql", want: `INSERT IGNORE INTO wallets (user_id, balance) VALUES (?, 0)`},
	}

	for _, tc := range cases {
		t.Run(tc.dialect, func(t *testing.T) {
			if got := InsertIgnore(tc.dialect, insert, "user_id"); got != tc.want {
				t.Fatalf("InsertIgnore(%q) = %q, want %q", tc.dialect, got, tc.want)
			}
		})
	}
}
