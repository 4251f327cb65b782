package config

import (
	"errors"
	"flag"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DBUrl       string
	TokenSecret string
	TokenTTL    time.Duration
	FilesDir    string
	ResendKey   string
	MailFrom    string
	Debug       bool
}

func ParseFlags() (cfg Config, err error) {
	_ = godotenv.Load()

	var host string
	flag.StringVar(&host, "host", envOr("HOST", "0.0.0.0"), "listen host name (default 0.0.0.0)")
	var port uint
	flag.UintVar(&port, "port", envOrUint("PORT", 80), "listen port number (default 80)")
	flag.StringVar(&cfg.DBUrl, "db-url", envOr("DB_URL", "collecte.sqlite"), "path to SQLite3 DB file (default collecte.sqlite)")
	flag.StringVar(&cfg.TokenSecret, "token-secret", os.Getenv("TOKEN_SECRET"), "secret key for token encryption and decryption")
	var ttl uint
	flag.UintVar(&ttl, "token-ttl", envOrUint("TOKEN_TTL", 120), "token TTL in seconds (default 120)")
	flag.StringVar(&cfg.FilesDir, "files-dir", envOr("FILES_DIR", "files"), "directory for uploads and generated exports (default files)")
	flag.StringVar(&cfg.ResendKey, "resend-key", os.Getenv("RESEND_API_KEY"), "Resend API key; email sending is disabled when empty")
	flag.StringVar(&cfg.MailFrom, "mail-from", envOr("MAIL_FROM", "Collecte <onboarding@resend.dev>"), "sender address for outbound email")
	flag.BoolVar(&cfg.Debug, "debug", false, "log at DEBUG level")
	flag.Parse()

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.TokenTTL = time.Duration(ttl) * time.Second

	if cfg.TokenSecret == "" {
		err = errors.New("missing parameter -token-secret")
	}

	return
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrUint(key string, fallback uint) uint {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint(n)
		}
	}
	return fallback
}
