package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report fields by their config path segment, not the Go name.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks that the config has valid values. Credentials are not
// required here so a freshly initialised file can still be loaded and
// edited; see RequireCredentials.
func Validate(cfg *Config) error {
	var errs []string

	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldMessage(fe))
		}
	}

	if cfg.Server.TelegramRoute == cfg.Server.WhatsAppRoute {
		errs = append(errs, "server.telegramRoute and server.whatsappRoute must differ")
	}
	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the postgres driver")
		}
	case "redis":
		if cfg.Store.RedisURL == "" && cfg.Queue.RedisURL == "" {
			errs = append(errs, "store.redisUrl is required for the redis driver")
		}
	}
	if cfg.Queue.Mode == "redis" && cfg.Queue.RedisURL == "" {
		errs = append(errs, "queue.redisUrl is required for redis queue mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireCredentials reports the settings the bridge cannot run without.
func RequireCredentials(cfg *Config) error {
	var missing []string
	for path, val := range map[string]string{
		"telegram.token":         cfg.Telegram.Token,
		"telegram.chatId":        cfg.Telegram.ChatID,
		"whatsapp.accessToken":   cfg.WhatsApp.AccessToken,
		"whatsapp.phoneNumberId": cfg.WhatsApp.PhoneNumberID,
		"whatsapp.verifyToken":   cfg.WhatsApp.VerifyToken,
	} {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, path+" is required")
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("config validation errors:\n  - %s", strings.Join(missing, "\n  - "))
}

func fieldMessage(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", path, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s must be >= %s", path, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be <= %s", path, fe.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", path, fe.Param())
	case "url":
		return path + " must be a valid URL"
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}
