package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
)

// CLI holds the flags of the wait tool.
type CLI struct {
	URL      string        `help:"Health endpoint to poll." default:"http://localhost:8080/health"`
	Interval time.Duration `help:"Pause between two attempts." default:"5s"`
	Timeout  time.Duration `help:"Give up after this long; zero waits forever." default:"0s"`
}

// Usage example on the command line:
// > go run main.go --url=http://localhost:8080/health --timeout=2m
func main() {
	var cli CLI
	kong.Parse(&cli, kong.Description("Waits until the contact directory service answers."))

	ctx := context.Background()
	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}
	if err := waitUntilAvailable(ctx, cli.URL, cli.Interval); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func waitUntilAvailable(ctx context.Context, url string, interval time.Duration) error {
	start := time.Now()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		res, err := http.DefaultClient.Do(req)
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				fmt.Println(res.Status)
				return nil
			}
			fmt.Println(res.Status)
		} else {
			fmt.Println(err)
		}

		fmt.Printf("Waiting %d seconds\n", int(time.Since(start).Seconds()))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not available: %w", url, ctx.Err())
		case <-time.After(interval):
		}
	}
}
