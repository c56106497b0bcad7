package schemarefresh

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Listener delivers NOTIFY payloads from a channel until ctx ends or the
// connection fails.
type Listener interface {
	Listen(ctx context.Context, channel string, onNotify func(payload string)) error
}

// PGListener listens on a dedicated pgx connection outside the request pool.
type PGListener struct {
	ConnString string
}

// Listen implements Listener.
func (l *PGListener) Listen(ctx context.Context, channel string, onNotify func(payload string)) error {
	conn, err := pgx.Connect(ctx, l.ConnString)
	if err != nil {
		return fmt.Errorf("failed to open listener connection: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %q: %w", channel, err)
	}
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		onNotify(notification.Payload)
	}
}
