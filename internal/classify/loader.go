package classify

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Loader reads the rules file and keeps the classifier current when the
// file changes on disk.
type Loader struct {
	v          *viper.Viper
	classifier *Classifier
	logger     *zap.Logger
}

// NewLoader parses the rules file and returns a loader plus a classifier
// seeded from it. An empty path yields the built-in default rules with
// no file watching.
func NewLoader(path string, logger *zap.Logger) (*Loader, *Classifier, error) {
	if path == "" {
		return nil, New(DefaultRules()), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read rules file: %w", err)
	}

	rules, err := parseRules(v)
	if err != nil {
		return nil, nil, err
	}

	l := &Loader{v: v, classifier: New(rules), logger: logger}
	return l, l.classifier, nil
}

// Watch starts live reloading. A broken edit keeps the previous rules.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(fsnotify.Event) {
		rules, err := parseRules(l.v)
		if err != nil {
			l.logger.Warn("rules reload failed, keeping previous rules", zap.Error(err))
			return
		}
		l.classifier.Reload(rules)
		l.logger.Info("classification rules reloaded", zap.Int("rules", len(rules)))
	})
	l.v.WatchConfig()
}

func parseRules(v *viper.Viper) ([]Rule, error) {
	var cfg struct {
		Rules []Rule `mapstructure:"rules"`
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return cfg.Rules, nil
}
