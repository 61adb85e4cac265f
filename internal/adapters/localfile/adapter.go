// Package localfile implements the markdown-file adapter, writing items
// as notes with YAML front matter into a local directory.
package localfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"content-router/internal/adapters"
	"content-router/internal/common/errors"
	"content-router/internal/storage"
)

const (
	AdapterType = "localfile"

	maxFilenameLength = 80
	filePerm          = 0o644
	dirPerm           = 0o755
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._ -]+`)

type Adapter struct {
	deps       *adapters.Deps
	params     *adapters.InitParams
	directory  string
	datePrefix bool
	createDirs bool
}

func (a *Adapter) Type() string {
	return AdapterType
}

func (a *Adapter) Validate(params *adapters.InitParams) error {
	directory, _ := params.Config["directory"].(string)
	if directory == "" {
		return errors.ConfigError("localfile adapter requires a directory")
	}
	return nil
}

func (a *Adapter) Initialize(ctx context.Context, params *adapters.InitParams) error {
	if err := a.Validate(params); err != nil {
		return err
	}
	a.params = params
	a.directory, _ = params.Config["directory"].(string)
	a.datePrefix, _ = params.Config["date_prefix"].(bool)
	a.createDirs, _ = params.Config["create_dirs"].(bool)

	if a.createDirs {
		if err := os.MkdirAll(a.directory, dirPerm); err != nil {
			return errors.InternalError("failed to create directory", err)
		}
	}
	if info, err := os.Stat(a.directory); err != nil || !info.IsDir() {
		return errors.ConfigError("localfile directory does not exist: " + a.directory)
	}
	return nil
}

func (a *Adapter) Distribute(ctx context.Context, item *storage.Item) *storage.DistributionResult {
	path, err := a.targetPath(item, time.Now())
	if err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, err.Error())
	}

	note, err := renderNote(item)
	if err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, "failed to render note: "+err.Error())
	}

	if err := os.WriteFile(path, []byte(note), filePerm); err != nil {
		return adapters.FailedResult(a.params, AdapterType, item, err.Error())
	}

	return adapters.SuccessResult(a.params, AdapterType, item, filepath.Base(path), "file://"+path)
}

// targetPath picks a filename from the item's title and resolves
// collisions with a timestamp suffix. Existing files are never
// overwritten.
func (a *Adapter) targetPath(item *storage.Item, now time.Time) (string, error) {
	name := sanitizeFilename(noteTitle(item))
	if a.datePrefix {
		name = now.Format("2006-01-02") + " " + name
	}

	path := filepath.Join(a.directory, name+".md")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}

	path = filepath.Join(a.directory, fmt.Sprintf("%s %d.md", name, now.Unix()))
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("file already exists: %s", path)
	}
	return path, nil
}

func sanitizeFilename(title string) string {
	name := unsafeFilenameChars.ReplaceAllString(title, "")
	name = strings.Join(strings.Fields(name), " ")
	if len(name) > maxFilenameLength {
		name = strings.TrimSpace(name[:maxFilenameLength])
	}
	if name == "" {
		name = "untitled"
	}
	return name
}

func noteTitle(item *storage.Item) string {
	if item.SuggestedTitle != "" {
		return item.SuggestedTitle
	}
	if len(item.OriginalContent) > 50 {
		return item.OriginalContent[:50]
	}
	return item.OriginalContent
}

// frontMatter is the YAML header written at the top of every note. Map
// values keep the key order stable via explicit struct fields.
type frontMatter struct {
	Created  string   `yaml:"created"`
	Category string   `yaml:"category"`
	Status   string   `yaml:"status"`
	Source   string   `yaml:"source"`
	Tags     []string `yaml:"tags,omitempty"`
	Due      string   `yaml:"due,omitempty"`
	Amount   string   `yaml:"amount,omitempty"`
	Currency string   `yaml:"currency,omitempty"`
}

func renderNote(item *storage.Item) (string, error) {
	created := item.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	matter := frontMatter{
		Created:  created.UTC().Format(time.RFC3339),
		Category: item.Category,
		Status:   "captured",
		Source:   "content-router",
		Tags:     stringList(item.Entities["tags"]),
		Due:      firstString(item.Entities["dates"]),
		Amount:   scalarString(item.Entities["amount"]),
		Currency: scalarString(item.Entities["currency"]),
	}

	header, err := yaml.Marshal(&matter)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString("# " + noteTitle(item) + "\n\n")

	if item.Summary != "" {
		b.WriteString("> " + item.Summary + "\n\n")
	}
	b.WriteString(item.OriginalContent + "\n")

	if details := renderDetails(item); details != "" {
		b.WriteString("\n## Details\n\n")
		b.WriteString(details)
	}

	return b.String(), nil
}

// renderDetails lists the structured entities worth surfacing in the
// note body. Empty when the item carries none of them.
func renderDetails(item *storage.Item) string {
	var b strings.Builder
	writeList := func(label string, values []string) {
		if len(values) == 0 {
			return
		}
		b.WriteString(fmt.Sprintf("- %s: %s\n", label, strings.Join(values, ", ")))
	}

	writeList("Dates", stringList(item.Entities["dates"]))
	writeList("People", stringList(item.Entities["people"]))
	if location := scalarString(item.Entities["location"]); location != "" {
		b.WriteString("- Location: " + location + "\n")
	}
	writeList("Links", stringList(item.Entities["links"]))

	return b.String()
}

func stringList(value interface{}) []string {
	switch list := value.(type) {
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, entry := range list {
			if s, ok := entry.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return list
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	}
	return nil
}

func firstString(value interface{}) string {
	if list := stringList(value); len(list) > 0 {
		return list[0]
	}
	return ""
}

func scalarString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
	case int:
		return fmt.Sprintf("%d", v)
	}
	return ""
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	info, err := os.Stat(a.directory)
	return err == nil && info.IsDir()
}

func (a *Adapter) Cleanup() {}
