package score

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadParams returns the default params overlaid with the YAML rules file at
// path. Absent keys keep their defaults; weight entries merge into the
// default weight map. An empty path returns the defaults untouched.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "score: read rules file %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, eris.Wrapf(err, "score: parse rules file %s", path)
	}

	zap.L().Info("loaded scoring rule overrides",
		zap.String("path", path),
		zap.Int("weights", len(p.Weights)),
	)
	return p, nil
}
