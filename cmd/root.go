package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/catchup/internal/config"
	"github.com/tanq16/catchup/internal/output"
	"github.com/tanq16/catchup/internal/utils"
)

var (
	cfgFile       string
	logFile       string
	debug         bool
	timeout       time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	transport     string
	chunks        int
	chunkWidth    int
	retries       int
	limitRate     string
	workers       int
	outputDir     string
	noRepair      bool
	archiveFlag   bool

	cfg config.Config
)

var CatchupVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "catchup",
	Short:         "Catchup builds IPTV catchup links and records them past CDN throttling",
	Version:       CatchupVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		return loadConfig(cmd)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		output.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (YAML or JSON); defaults to ./config.yaml or ./config.json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 0, "Connection timeout (eg. 30s, 2m)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", "", "User agent (\"randomize\" picks one per run)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Referer: http://host/'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "Transport: auto, native or wget")
	rootCmd.PersistentFlags().IntVarP(&chunks, "chunks", "n", 0, "Number of reconnect chunks per recording (1-100)")
	rootCmd.PersistentFlags().IntVar(&chunkWidth, "chunk-width", 0, "Chunk width in percent; overrides --chunks")
	rootCmd.PersistentFlags().IntVarP(&retries, "retries", "r", 0, "Retries per chunk before giving up")
	rootCmd.PersistentFlags().StringVar(&limitRate, "limit-rate", "", "Bandwidth cap (eg. 800K, 2MB)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "Recordings to download in parallel")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "d", "", "Directory for recordings")
	rootCmd.PersistentFlags().BoolVar(&noRepair, "no-repair", false, "Skip the ffmpeg repair pass")
	rootCmd.PersistentFlags().BoolVar(&archiveFlag, "archive", false, "Upload finished recordings to the configured S3 bucket")

	rootCmd.AddCommand(newURLCmd())
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newCleanCmd())
}

// loadConfig layers defaults, the config file, CATCHUP_ variables and flags.
func loadConfig(cmd *cobra.Command) error {
	c := config.Default()
	path := cfgFile
	if path == "" {
		path = config.FindFile()
	}
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return err
		}
		log.Debug().Str("op", "cmd/config").Msgf("Loaded config from %s", path)
		c = loaded
	}
	if err := c.LoadFromEnv(); err != nil {
		return err
	}

	flags := cmd.Flags()
	var override config.Config
	override.Transport = transport
	override.Chunks = chunks
	override.ChunkWidth = chunkWidth
	override.Workers = workers
	override.OutputDir = outputDir
	override.HTTP.Timeout = timeout
	override.HTTP.UserAgent = userAgent
	override.HTTP.Proxy = proxyURL
	override.HTTP.Headers = utils.ParseHeaderArgs(headers)
	if limitRate != "" {
		rate, err := utils.ParseBytes(limitRate)
		if err != nil {
			return fmt.Errorf("invalid --limit-rate: %w", err)
		}
		override.LimitRate = rate
	}
	c = c.Merge(override)
	if flags.Changed("retries") {
		c.Retry.Attempts = retries
	}
	if flags.Changed("chunk-width") && chunkWidth == 0 {
		c.ChunkWidth = 0
	}
	if noRepair {
		c.Repair = false
	}
	if c.HTTP.UserAgent == "randomize" {
		c.HTTP.UserAgent = utils.GetRandomUserAgent()
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c
	return nil
}

// httpConfig builds the client settings, lifting credentials out of the
// proxy URL when they are embedded there.
func httpConfig() utils.HTTPClientConfig {
	hc := cfg.HTTPClientConfig()
	hc.ProxyUsername = proxyUsername
	hc.ProxyPassword = proxyPassword
	parsed, err := u.Parse(hc.ProxyURL)
	if err == nil && parsed.User != nil && hc.ProxyUsername == "" {
		hc.ProxyUsername = parsed.User.Username()
		if password, set := parsed.User.Password(); set {
			hc.ProxyPassword = password
		}
		parsed.User = nil
		hc.ProxyURL = parsed.String()
	}
	return hc
}
