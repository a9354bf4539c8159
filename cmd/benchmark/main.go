package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var (
	endpoint    string
	dataDir     string
	concurrency int64
	timeout     time.Duration

	imageExts = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
	}
)

func main() {
	app := &cli.Command{
		Name:  "benchmark",
		Usage: "Upload every image under a directory and report caption latency",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "endpoint",
				Usage:       "upload endpoint",
				Value:       "http://localhost:5000/upload",
				Destination: &endpoint,
			},
			&cli.StringFlag{
				Name:        "data",
				Aliases:     []string{"d"},
				Usage:       "directory of images, one subdirectory per format is fine",
				Value:       filepath.Join(".", "data"),
				Destination: &dataDir,
			},
			&cli.Int64Flag{
				Name:        "concurrency",
				Aliases:     []string{"c"},
				Usage:       "parallel uploads",
				Value:       1,
				Destination: &concurrency,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "per-request timeout",
				Value:       2 * time.Minute,
				Destination: &timeout,
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	files, err := collectImages(dataDir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if len(files) == 0 {
		return cli.Exit(fmt.Sprintf("error: no images under %s", dataDir), 1)
	}

	client := &http.Client{Timeout: timeout}

	var (
		mu      sync.Mutex
		results []BenchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(max(concurrency, 1)))
	for _, path := range files {
		g.Go(func() error {
			res := benchmarkImage(gctx, client, path)
			if res.Err != nil {
				log.Println("ERR:", res.File, res.Err)
			} else {
				log.Printf("OK %s %v %q", res.File, res.Duration, res.Description)
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	printMarkdown(results)
	return nil
}

func collectImages(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && imageExts[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func benchmarkImage(ctx context.Context, client *http.Client, filePath string) BenchResult {
	res := BenchResult{
		File:   filepath.Base(filePath),
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), "."),
	}

	fileRaw, err := os.ReadFile(filePath)
	if err != nil {
		res.Err = err
		return res
	}
	res.Size = int64(len(fileRaw))

	start := time.Now()
	res.Description, res.Err = upload(ctx, client, res.File, fileRaw)
	res.Duration = time.Since(start)
	return res
}

func upload(ctx context.Context, client *http.Client, name string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if sonic.Unmarshal(raw, &e) == nil && e.Error != "" {
			return "", fmt.Errorf("bad status %d: %s", resp.StatusCode, e.Error)
		}
		return "", fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var c CaptionResponse
	if err := sonic.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return c.Description, nil
}

func aggregate(results []BenchResult) map[string]Agg {
	m := map[string]Agg{}
	for _, r := range results {
		a := m[r.Format]
		if r.Err != nil {
			a.Failed++
			m[r.Format] = a
			continue
		}
		a.Count++
		a.TotalBytes += r.Size
		a.Total += r.Duration
		m[r.Format] = a
	}
	return m
}

func printMarkdown(results []BenchResult) {
	fmt.Print("\n## Benchmark Results\n\n")
	fmt.Println("| Format | Requests | Failed | Avg Time | Total Time | Avg File Size |")
	fmt.Println("|--------|----------|--------|----------|------------|---------------|")

	agg := aggregate(results)
	formats := make([]string, 0, len(agg))
	for format := range agg {
		formats = append(formats, format)
	}
	sort.Strings(formats)

	var (
		totalCount    int
		totalFailed   int
		totalDuration time.Duration
		totalBytes    int64
	)

	for _, format := range formats {
		a := agg[format]
		totalFailed += a.Failed
		if a.Count == 0 {
			fmt.Printf("| %s | 0 | %d | - | - | - |\n", format, a.Failed)
			continue
		}
		avg := a.Total / time.Duration(a.Count)
		avgSize := a.TotalBytes / int64(a.Count)
		fmt.Printf("| %s | %d | %d | %v | %v | %s |\n",
			format,
			a.Count,
			a.Failed,
			avg.Round(time.Millisecond),
			a.Total.Round(time.Millisecond),
			humanBytes(avgSize),
		)
		totalCount += a.Count
		totalDuration += a.Total
		totalBytes += a.TotalBytes
	}

	if totalCount > 0 {
		mean := totalDuration / time.Duration(totalCount)
		avgSize := totalBytes / int64(totalCount)
		fmt.Printf("| **ALL** | %d | %d | %v | %v | %s |\n",
			totalCount,
			totalFailed,
			mean.Round(time.Millisecond),
			totalDuration.Round(time.Millisecond),
			humanBytes(avgSize),
		)
	}
}

func humanBytes(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case size >= GB:
		return fmt.Sprintf("%.2f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.2f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.2f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d B", size)
	}
}
