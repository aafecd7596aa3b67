package db

import "fmt"

// Tables lists the schema in creation order.
var Tables = []struct {
	Name string
	DDL  string
}{
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		display_name text,
		handle text,
		avatar_url text
	)`},
	{"following", `CREATE TABLE IF NOT EXISTS following (
		user_id text,
		following_id text,
		created_at timestamp,
		PRIMARY KEY (user_id, following_id)
	)`},
	{"followers", `CREATE TABLE IF NOT EXISTS followers (
		user_id text,
		follower_id text,
		created_at timestamp,
		PRIMARY KEY (user_id, follower_id)
	)`},
	{"messages", `CREATE TABLE IF NOT EXISTS messages (
		room_id text,
		id bigint,
		sender_id text,
		receiver_id text,
		content text,
		local_id text,
		created_at timestamp,
		PRIMARY KEY (room_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`},
}

// CreateKeyspace creates keyspace using a session connected to "system".
func CreateKeyspace(sys *Session, keyspace string) error {
	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	return sys.Query(q).Exec()
}

// CreateSchema creates every table that does not exist yet.
func CreateSchema(s *Session) error {
	for _, t := range Tables {
		if err := s.Query(t.DDL).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// DropSchema drops every table.
func DropSchema(s *Session) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		if err := s.Query("DROP TABLE IF EXISTS " + Tables[i].Name).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", Tables[i].Name, err)
		}
	}
	return nil
}
