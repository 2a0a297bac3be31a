// Package glue runs Spark SQL on AWS Glue interactive sessions.
//
// A Connection owns one remote session. Connect provisions a session (or
// reuses a known one), waits until it is READY and installs a small Python
// helper that turns SQL results into JSON envelopes. Cursors then submit SQL
// as session statements, poll them to completion and decode their output.
//
// # Getting Started
//
//	client, err := glue.NewClient(ctx, "eu-west-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := glue.DefaultConfig()
//	cfg.Region = "eu-west-1"
//	cfg.RoleARN = "arn:aws:iam::123456789012:role/GlueInteractiveSession"
//	cfg.Database = "analytics"
//
//	conn := glue.NewConnection(client, cfg)
//	cur := conn.DictCursor()
//	if err := cur.Execute(ctx, "SELECT id, name FROM users"); err != nil {
//	    log.Fatal(err)
//	}
//	for rec := range cur.All() {
//	    fmt.Println(rec["id"], rec["name"])
//	}
//
// # Sessions
//
// Sessions take minutes to provision, so they outlive Connection.Close and
// are reused by id: set Config.SessionID, or attach a SessionStore so the
// next process picks up where this one left off. Call CloseSession to delete
// the session when the work is done.
//
// # Statements
//
// Cursor text is SQL unless it starts with "--pyspark", in which case it runs
// as Python in the session. A ';' separated batch runs every statement and
// returns the result of the last one.
//
// # database/sql
//
// The package registers a "glue" driver:
//
//	db, err := sql.Open("glue", "glue://eu-west-1?role_arn=arn:aws:iam::123456789012:role/Glue&database=analytics")
package glue
