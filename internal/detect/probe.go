package detect

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/sonicator-hil/internal/wrapper"
)

// WrapperProbe opens port, pings the wrapper and reads its INFO line.
func WrapperProbe(baud int, timeout time.Duration) Prober {
	return func(ctx context.Context, port string) (string, error) {
		client, err := wrapper.Open(ctx, wrapper.OpenOptions{Port: port, Baud: baud, Timeout: timeout})
		if err != nil {
			return "", err
		}
		defer client.Close()

		w := wrapper.New(client)
		err = w.Ping(ctx)
		if err != nil {
			return "", errors.Wrap(err, "ping")
		}
		info, err := w.Info(ctx)
		if err != nil {
			return "", errors.Wrap(err, "info")
		}

		return info, nil
	}
}
