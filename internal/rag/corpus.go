package rag

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/teller/pkg/models"
)

// ErrEmptyCorpus is returned when a corpus source yields no passages.
var ErrEmptyCorpus = errors.New("rag: corpus is empty")

// CorpusConfig locates the corpus.
type CorpusConfig struct {
	// Path is a local file, a local directory, or s3://bucket/key.
	Path string `yaml:"path"`

	// Region and Endpoint configure the S3 client for s3:// paths.
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	Splitter SplitterConfig `yaml:"splitter"`
}

// corpusRecord accepts both page records ({"source","page","page_content"})
// and Q&A records ({"question","full_text","url"}).
type corpusRecord struct {
	Source      string         `json:"source"`
	Page        models.Locator `json:"page"`
	PageContent string         `json:"page_content"`
	Question    string         `json:"question"`
	FullText    string         `json:"full_text"`
	URL         string         `json:"url"`
}

// LoadCorpus reads every supported file at cfg.Path and splits it into
// passages. Supported formats are .json (array of records), .jsonl (one
// record per line), .md and .txt (one document per file).
func LoadCorpus(ctx context.Context, cfg CorpusConfig, logger *slog.Logger) ([]Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	location := strings.TrimSpace(cfg.Path)
	if location == "" {
		return nil, errors.New("rag: corpus path is required")
	}
	splitter := NewSplitter(cfg.Splitter)

	var docs []Document
	if strings.HasPrefix(location, "s3://") {
		getter, err := NewS3Getter(ctx, cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		data, key, err := FetchS3Object(ctx, getter, location)
		if err != nil {
			return nil, err
		}
		docs, err = parseCorpusFile(path.Base(key), data, splitter)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		docs, err = loadLocal(ctx, location, splitter, logger)
		if err != nil {
			return nil, err
		}
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCorpus, location)
	}
	logger.Info("corpus loaded", "path", location, "passages", len(docs))
	return docs, nil
}

func loadLocal(ctx context.Context, root string, splitter *Splitter, logger *slog.Logger) ([]Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("rag: stat corpus: %w", err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(root)
		if err != nil {
			return nil, fmt.Errorf("rag: read corpus: %w", err)
		}
		return parseCorpusFile(filepath.Base(root), data, splitter)
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !supportedCorpusFile(p) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rag: walk corpus: %w", err)
	}
	sort.Strings(files)

	var docs []Document
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("rag: read %s: %w", file, err)
		}
		rel, err := filepath.Rel(root, file)
		if err != nil {
			rel = filepath.Base(file)
		}
		parsed, err := parseCorpusFile(filepath.ToSlash(rel), data, splitter)
		if err != nil {
			logger.Warn("skipping corpus file", "file", file, "error", err)
			continue
		}
		docs = append(docs, parsed...)
	}
	return docs, nil
}

func supportedCorpusFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonl", ".md", ".txt":
		return true
	default:
		return false
	}
}

// parseCorpusFile decodes one file. name is used as the source of records
// that do not carry their own.
func parseCorpusFile(name string, data []byte, splitter *Splitter) ([]Document, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		var records []corpusRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("rag: decode %s: %w", name, err)
		}
		return recordsToDocuments(name, records, splitter), nil

	case ".jsonl":
		var records []corpusRecord
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := bytes.TrimSpace(scanner.Bytes())
			if len(text) == 0 {
				continue
			}
			var rec corpusRecord
			if err := json.Unmarshal(text, &rec); err != nil {
				return nil, fmt.Errorf("rag: decode %s line %d: %w", name, line, err)
			}
			records = append(records, rec)
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("rag: read %s: %w", name, err)
		}
		return recordsToDocuments(name, records, splitter), nil

	case ".md", ".txt":
		var docs []Document
		for _, passage := range splitter.Split(string(data)) {
			docs = append(docs, Document{Source: name, Content: passage})
		}
		return docs, nil

	default:
		return nil, fmt.Errorf("rag: unsupported corpus file %s", name)
	}
}

func recordsToDocuments(name string, records []corpusRecord, splitter *Splitter) []Document {
	var docs []Document
	for _, rec := range records {
		source := strings.TrimSpace(rec.Source)
		if source == "" {
			source = name
		}

		content := rec.PageContent
		if strings.TrimSpace(content) == "" {
			// Q&A pairs are indexed whole, question first.
			content = strings.TrimSpace(strings.Join([]string{rec.Question, rec.FullText}, "\n"))
			if content != "" {
				docs = append(docs, Document{Source: source, Page: string(rec.Page), Content: content})
			}
			continue
		}

		for _, passage := range splitter.Split(content) {
			docs = append(docs, Document{Source: source, Page: string(rec.Page), Content: passage})
		}
	}
	return docs
}
