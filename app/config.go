package schoolchat

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	API struct {
		// BaseURL is the root of the school-management REST API.
		BaseURL string `validate:"required,url"`
		// Token is the bearer credential issued by the auth service.
		Token string `validate:"required"`
		// TimeoutSeconds bounds each request. The default is 15.
		TimeoutSeconds int `validate:"required,min=1"`
	}
	User struct {
		// ID is the authenticated user's id, as known to the backend.
		ID   string `validate:"required"`
		Name string
		// Role decides which rooms are visible.
		Role string `validate:"required"`
	}
	Sync struct {
		// IntervalSeconds is the room-list poll period. The default is 30.
		IntervalSeconds int `validate:"required,min=1"`
		// PageSize is the message-history page size. The default is 50.
		PageSize int `validate:"required,min=1"`
	}
	History struct {
		// File is the path of the local SQLite history cache. Empty
		// disables the cache.
		File string
		// Migrations is the directory holding the cache migrations.
		Migrations string
	}
	valid bool
}

// LoadConfig loads the configuration from the config file and environment
// variables. Any invalid configuration will not be loaded, and the error
// wil be cought in the validation step.
func LoadConfig() (*Config, error) {
	config := &Config{}
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("api.timeoutseconds", 15)
	viper.SetDefault("sync.intervalseconds", 30)
	viper.SetDefault("sync.pagesize", 50)
	viper.SetDefault("history.migrations", "./migrations")

	if err := viper.ReadInConfig(); err != nil {
		// The file is optional; env vars alone can carry the config.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ""
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errors.Translate(trans)

	var sb strings.Builder
	for _, v := range translated {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
