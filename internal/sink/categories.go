package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/pricewatchbd/crawler/internal/record"
)

// ReadCategories loads the category file written by the category phase.
// A missing file is a hard error (the product phase has nothing to crawl);
// individual malformed lines are logged and skipped so one bad line never
// sinks the run. URLs failing the site's prefix check are skipped too, to
// keep a stale or foreign file from steering the crawl off-site.
func ReadCategories(path, requiredPrefix string, logger *zap.Logger) ([]record.Category, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open category file %s: %w", path, err)
	}
	defer file.Close()

	var out []record.Category
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cat record.Category
		if err := json.Unmarshal([]byte(line), &cat); err != nil {
			logger.Warn("skipping malformed category line",
				zap.String("path", path),
				zap.Int("line", lineNum),
				zap.Error(err),
			)
			continue
		}
		if cat.CategoryURL == "" || cat.CategoryName == "" {
			logger.Warn("skipping category line missing url or name",
				zap.String("path", path),
				zap.Int("line", lineNum),
			)
			continue
		}
		if requiredPrefix != "" && !strings.HasPrefix(cat.CategoryURL, requiredPrefix) {
			logger.Warn("skipping category outside configured site",
				zap.String("url", cat.CategoryURL),
				zap.Int("line", lineNum),
			)
			continue
		}
		out = append(out, cat)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read category file %s: %w", path, err)
	}
	return out, nil
}
