package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/wechatbot/internal/accesstoken"
	"github.com/memohai/wechatbot/internal/channel"
	"github.com/memohai/wechatbot/internal/channel/adapters/mp"
	"github.com/memohai/wechatbot/internal/channel/adapters/wecom"
	"github.com/memohai/wechatbot/internal/config"
	"github.com/memohai/wechatbot/internal/convlock"
	"github.com/memohai/wechatbot/internal/dispatch"
	"github.com/memohai/wechatbot/internal/handlers"
	dispatchchecker "github.com/memohai/wechatbot/internal/healthcheck/checkers/dispatch"
	tokenchecker "github.com/memohai/wechatbot/internal/healthcheck/checkers/token"
	"github.com/memohai/wechatbot/internal/logger"
	"github.com/memohai/wechatbot/internal/metrics"
	"github.com/memohai/wechatbot/internal/persona"
	"github.com/memohai/wechatbot/internal/server"
	"github.com/memohai/wechatbot/internal/version"
	"github.com/memohai/wechatbot/internal/wxapi"
)

const tokenWarmupTimeout = 10 * time.Second

func runServe(cfgPath string) {
	fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(cfgPath) },
			provideLogger,
			provideSessionStore,
			provideGenerator,
			provideBot,
			convlock.NewRegistry,
			providePlatforms,
			provideDispatcher,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideChatHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServerHandler(provideReadyHandler),
			provideCallbackHandlers,
			provideServer,
		),
		fx.Invoke(
			startDispatcher,
			startTokenWarmup,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideSessionStore(cfg config.Config) *persona.SessionStore {
	return persona.NewSessionStore(cfg.Persona.MaxRounds)
}

func provideGenerator(log *slog.Logger, cfg config.Config) (persona.Generator, error) {
	prompt, err := cfg.Persona.ResolveSystemPrompt()
	if err != nil {
		return nil, err
	}
	if prompt == "" {
		prompt = persona.DefaultSystemPrompt(cfg.Persona.Name)
	}
	if cfg.LLM.APIKey == "" {
		log.Warn("llm api key is empty; generation requests will be rejected upstream")
	}
	return persona.NewOpenAIGenerator(log, persona.GeneratorConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		Temperature:  float32(cfg.LLM.Temperature),
		MaxTokens:    cfg.LLM.MaxTokens,
		SystemPrompt: prompt,
	}), nil
}

func provideBot(cfg config.Config, generator persona.Generator, sessions *persona.SessionStore) *persona.Bot {
	return persona.NewBot(cfg.Persona.Name, generator, sessions)
}

// tokenWarmup is a credential cache primed at startup.
type tokenWarmup struct {
	channel channel.ChannelType
	cache   *accesstoken.Cache
}

type platforms struct {
	fx.Out

	Senders *channel.Registry
	Warmups []tokenWarmup
}

// providePlatforms builds a token cache, API client and outbound sender for every
// enabled channel.
func providePlatforms(log *slog.Logger, cfg config.Config) platforms {
	registry := channel.NewRegistry()
	var warmups []tokenWarmup

	if cfg.WeCom.Enabled {
		fetcher := wxapi.WeComTokenFetcher{BaseURL: cfg.WeCom.BaseURL, CorpID: cfg.WeCom.CorpID, CorpSecret: cfg.WeCom.CorpSecret}
		cache := accesstoken.New(fetcher,
			accesstoken.WithLogger(log.With(slog.String("channel", channel.ChannelWeCom.String()))),
			accesstoken.WithObserver(metrics.TokenObserver(channel.ChannelWeCom.String())),
		)
		client := wxapi.NewClient(cfg.WeCom.BaseURL, cache, wxapi.WithLogger(log), wxapi.WithRateLimit(cfg.WeCom.SendQPS))
		registry.MustRegister(channel.ChannelWeCom, wecom.NewSender(client, cfg.WeCom.AgentID))
		warmups = append(warmups, tokenWarmup{channel: channel.ChannelWeCom, cache: cache})
	}
	if cfg.MP.Enabled {
		fetcher := wxapi.MPTokenFetcher{BaseURL: cfg.MP.BaseURL, AppID: cfg.MP.AppID, AppSecret: cfg.MP.AppSecret}
		cache := accesstoken.New(fetcher,
			accesstoken.WithLogger(log.With(slog.String("channel", channel.ChannelMP.String()))),
			accesstoken.WithObserver(metrics.TokenObserver(channel.ChannelMP.String())),
		)
		client := wxapi.NewClient(cfg.MP.BaseURL, cache, wxapi.WithLogger(log), wxapi.WithRateLimit(cfg.MP.SendQPS))
		registry.MustRegister(channel.ChannelMP, mp.NewSender(client))
		warmups = append(warmups, tokenWarmup{channel: channel.ChannelMP, cache: cache})
	}
	return platforms{Senders: registry, Warmups: warmups}
}

func provideDispatcher(log *slog.Logger, cfg config.Config, bot *persona.Bot, locks *convlock.Registry, senders *channel.Registry) (*dispatch.Dispatcher, error) {
	chunkDelay, err := cfg.Dispatch.ChunkDelayDuration()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Dispatch.GenerationTimeoutDuration()
	if err != nil {
		return nil, err
	}
	return dispatch.New(log, bot, locks, senders, dispatch.Config{
		Workers:           cfg.Dispatch.Workers,
		QueueSize:         cfg.Dispatch.QueueSize,
		ChunkDelay:        chunkDelay,
		GenerationTimeout: timeout,
		MaxChunkRunes:     cfg.Dispatch.MaxChunkRunes,
	}), nil
}

func providePingHandler(log *slog.Logger, bot *persona.Bot) *handlers.PingHandler {
	return handlers.NewPingHandler(log, bot)
}

func provideChatHandler(log *slog.Logger, dispatcher *dispatch.Dispatcher) *handlers.ChatHandler {
	return handlers.NewChatHandler(log, dispatcher)
}

func provideReadyHandler(log *slog.Logger, dispatcher *dispatch.Dispatcher, warmups []tokenWarmup) *handlers.ReadyHandler {
	caches := make(map[string]tokenchecker.TokenState, len(warmups))
	for _, w := range warmups {
		caches[w.channel.String()] = w.cache
	}
	return handlers.NewReadyHandler(log,
		tokenchecker.NewChecker(log, caches),
		dispatchchecker.NewChecker(log, dispatcher),
	)
}

type callbackHandlers struct {
	fx.Out

	Handlers []server.Handler `group:"server_handlers,flatten"`
}

// provideCallbackHandlers registers the platform callbacks of enabled channels only.
func provideCallbackHandlers(log *slog.Logger, cfg config.Config, dispatcher *dispatch.Dispatcher) (callbackHandlers, error) {
	var out callbackHandlers
	if cfg.WeCom.Enabled {
		h, err := wecom.NewWebhookHandler(log, wecom.Config{
			CorpID:         cfg.WeCom.CorpID,
			Token:          cfg.WeCom.Token,
			EncodingAESKey: cfg.WeCom.EncodingAESKey,
			CallbackPath:   cfg.WeCom.CallbackPath,
			FillerOnMedia:  cfg.WeCom.FillerOnMedia,
		}, dispatcher)
		if err != nil {
			return out, err
		}
		out.Handlers = append(out.Handlers, h)
	}
	if cfg.MP.Enabled {
		h, err := mp.NewWebhookHandler(log, mp.Config{
			Token:         cfg.MP.Token,
			CallbackPath:  cfg.MP.CallbackPath,
			FillerOnMedia: cfg.MP.FillerOnMedia,
		}, dispatcher)
		if err != nil {
			return out, err
		}
		out.Handlers = append(out.Handlers, h)
	}
	return out, nil
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, server.Options{
		Addr:      params.Config.Server.Addr,
		JWTSecret: params.Config.Auth.JWTSecret,
	}, params.ServerHandlers...)
}

func startDispatcher(lc fx.Lifecycle, dispatcher *dispatch.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { dispatcher.Start(ctx); return nil },
		OnStop:  func(stopCtx context.Context) error { cancel(); return dispatcher.Shutdown(stopCtx) },
	})
}

// startTokenWarmup fetches every credential once in the background. Failures are
// logged; the next send retries.
func startTokenWarmup(lc fx.Lifecycle, log *slog.Logger, warmups []tokenWarmup) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			for _, w := range warmups {
				go func(w tokenWarmup) {
					ctx, cancel := context.WithTimeout(context.Background(), tokenWarmupTimeout)
					defer cancel()
					if _, err := w.cache.Get(ctx); err != nil {
						log.Warn("access token warmup failed", slog.String("channel", w.channel.String()), slog.Any("error", err))
					}
				}(w)
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, bot *persona.Bot, senders *channel.Registry) {
	log.Info("starting wechatbot",
		slog.String("version", version.GetInfo().String()),
		slog.String("persona", bot.Name()),
		slog.Any("channels", senders.Types()),
	)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
