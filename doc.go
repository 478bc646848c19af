/*
Package blueprint is a guided-authoring engine: it walks an author through a
multi-section project blueprint one question at a time, checks the quality of
every answer, asks for explicit confirmation and keeps partial progress
durable while the remote store comes and goes.

# Concept

The conversation core is a pure state machine (internal/runtime). Every turn
takes the current session and one input and returns the next session plus the
side-effects the host must perform: show a prompt, persist, report a notice or
ask the language-generation collaborator for wording. The Engine is the host
used by the CLI, the HTTP API and the MCP server: it loads sessions through the
recovery validator, serializes turns per session, schedules persistence and
fills prompt text from templates or generated wording.

# Usage

	engine, err := blueprint.New(
		blueprint.WithLocalStore(file.New(".blueprint/sessions")),
		blueprint.WithRemoteStore(redisStore),
		blueprint.WithSyncQueue(queue),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close(ctx)

	turn, _ := engine.Create(ctx)
	fmt.Println(turn.Snapshot.Prompt.Text)

	turn, _ = engine.Submit(ctx, turn.Snapshot.SessionID, "Students design a renewable-energy proposal")

# Degraded operation

Quality rejections, orphan clean-ups and rollbacks are resolved inside the
machine and reported as notices. Persistence and generation failures are
reported through the notifier and never fail a turn: the local copy is written
first and remote writes retry, queue and drain in the background.
*/
package blueprint
