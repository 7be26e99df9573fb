package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"gitlab.com/dirk.krummacker/contact-directory/internal/model"
	"golang.org/x/sync/errgroup"
)

// CLI holds the flags of the benchmark client.
type CLI struct {
	URL         string `help:"Base URL of the service." default:"http://localhost:8080"`
	Sizes       []int  `help:"Numbers of contacts per round." default:"1000,5000,10000"`
	Concurrency int    `help:"Requests in flight at the same time." default:"1"`
	Photo       string `help:"Image file sent with every POST request." type:"existingfile" optional:""`
}

var contactJSON = []byte(`{
	"firstName": "Marcus",
	"lastName": "Antonius",
	"email": "marcus.antonius@example.com",
	"phone": "+39999777555",
	"company": "Senatus Populusque Romanus",
	"city": "Roma"
}`)

// Usage example on the command line:
// > go run main.go --sizes=1000,5000 --concurrency=8 --photo=face.jpg
func main() {
	var cli CLI
	kong.Parse(&cli, kong.Description("Measures the average duration of the contact requests in microseconds."))

	var photo []byte
	if cli.Photo != "" {
		var err error
		photo, err = os.ReadFile(cli.Photo)
		if err != nil {
			fail(err)
		}
	}
	b := &bench{baseURL: cli.URL, concurrency: max(cli.Concurrency, 1), photo: photo}

	fmt.Println()
	fmt.Println("  Elements      POST       PUT       GET      LIST    DELETE ")
	fmt.Println("-------------------------------------------------------------")
	for _, loops := range cli.Sizes {
		fmt.Printf("%10d", loops)
		ids, d, err := b.createAll(loops)
		if err != nil {
			fail(err)
		}
		fmt.Printf("%10d", d)
		for _, method := range []string{http.MethodPut, http.MethodGet} {
			d, err := b.callAll(shuffled(ids), method)
			if err != nil {
				fail(err)
			}
			fmt.Printf("%10d", d)
		}
		d, err = b.listAll()
		if err != nil {
			fail(err)
		}
		fmt.Printf("%10d", d)
		d, err = b.callAll(shuffled(ids), http.MethodDelete)
		if err != nil {
			fail(err)
		}
		fmt.Printf("%10d", d)
		fmt.Println()
	}
}

// bench sends the requests and sums up their durations.
type bench struct {
	baseURL     string
	concurrency int
	photo       []byte
}

// createAll creates n contacts and returns their ids and the average duration.
func (b *bench) createAll(n int) ([]int64, int64, error) {
	ids := make([]int64, n)
	var total atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(b.concurrency)
	for i := range n {
		g.Go(func() error {
			body, contentType, err := b.contactBody()
			if err != nil {
				return err
			}
			resBody, d, err := b.send(ctx, http.MethodPost, b.baseURL+"/contacts", contentType, body)
			if err != nil {
				return err
			}
			var contact model.Contact
			if err := json.Unmarshal(resBody, &contact); err != nil {
				return fmt.Errorf("could not unmarshal JSON: %w", err)
			}
			ids[i] = contact.Id
			total.Add(d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return ids, average(total.Load(), n), nil
}

// callAll sends one request with the given method for every id.
func (b *bench) callAll(ids []int64, method string) (int64, error) {
	var total atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(b.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			var body []byte
			contentType := ""
			if method == http.MethodPut {
				var err error
				if body, contentType, err = b.contactBody(); err != nil {
					return err
				}
			}
			_, d, err := b.send(ctx, method, fmt.Sprintf("%s/contacts/%d", b.baseURL, id), contentType, body)
			total.Add(d)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return average(total.Load(), len(ids)), nil
}

// listAll pages through all contacts, 100 at a time.
func (b *bench) listAll() (int64, error) {
	var total int64
	requests := 0
	for page := 0; ; page++ {
		resBody, d, err := b.send(context.Background(), http.MethodGet, fmt.Sprintf("%s/contacts?page=%d&size=100", b.baseURL, page), "", nil)
		if err != nil {
			return 0, err
		}
		total += d
		requests++
		var p model.Page[model.Contact]
		if err := json.Unmarshal(resBody, &p); err != nil {
			return 0, fmt.Errorf("could not unmarshal JSON: %w", err)
		}
		if len(p.Items) == 0 || page+1 >= p.TotalPages {
			break
		}
	}
	return average(total, requests), nil
}

// contactBody returns plain JSON, or a multipart form when a photo is configured.
func (b *bench) contactBody() ([]byte, string, error) {
	if b.photo == nil {
		return contactJSON, "application/json", nil
	}
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="contact"; filename="blob"`)
	header.Set("Content-Type", "application/json")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(contactJSON); err != nil {
		return nil, "", err
	}
	part, err = w.CreateFormFile("photo", "photo.jpg")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(b.photo); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (b *bench) send(ctx context.Context, method, url, contentType string, body []byte) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("could not create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	before := time.Now()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("error making http request: %w", err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("could not read response body: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return nil, 0, fmt.Errorf("%s %s: %s", method, url, res.Status)
	}
	return resBody, time.Since(before).Nanoseconds(), nil
}

func shuffled(ids []int64) []int64 {
	result := append([]int64(nil), ids...)
	rand.Shuffle(len(result), func(i, j int) {
		result[i], result[j] = result[j], result[i]
	})
	return result
}

// average returns the mean duration in microseconds.
func average(totalNanos int64, n int) int64 {
	if n == 0 {
		return 0
	}
	return totalNanos / int64(n*1000)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
