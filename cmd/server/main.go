package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/cache"
	"github.com/your-org/llmstxt/internal/config"
	"github.com/your-org/llmstxt/internal/domain"
	"github.com/your-org/llmstxt/internal/handlers"
	"github.com/your-org/llmstxt/internal/metrics"
	"github.com/your-org/llmstxt/internal/middleware"
	"github.com/your-org/llmstxt/internal/repositories"
	"github.com/your-org/llmstxt/internal/usecases"
	"github.com/your-org/llmstxt/pkg/logger"
)

const (
	// Настройки для проверки здоровья хранилища при старте.
	// Даем базе немного времени "проснуться", прежде чем сдаваться.
	healthCheckRetries    = 5
	healthCheckRetryDelay = 2 * time.Second

	// Время на аккуратное завершение работы сервера (доделать текущие запросы).
	shutdownTimeout = 30 * time.Second
)

// storage: выбранное хранилище контента и его необязательные возможности.
type storage struct {
	repo    domain.ContentRepository
	store   domain.ContentStore  // nil, если хранилище только для чтения
	checker domain.HealthChecker // nil, если проверять нечего
	files   *repositories.FileRepository
	close   func() error
}

// App держит вместе все зависимости приложения и управляет их жизненным циклом.
type App struct {
	configPath string

	config   *config.Config
	provider *config.Provider
	logger   *zap.Logger
	storage  *storage
	cache    *cache.ShardedCache
	cached   *repositories.CachedRepository
	metrics  *metrics.Metrics
	usecase  *usecases.LLMSUsecase
	server   *http.Server

	// Гарантия однократной инициализации.
	coreOnce sync.Once
	coreErr  error
	initOnce sync.Once
	initErr  error

	// Context отменяет все фоновые задачи разом при выключении.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// NewApp создает заготовку приложения. Настройка происходит в Initialize.
func NewApp(configPath string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		configPath: configPath,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Initialize собирает приложение целиком, включая HTTP сервер.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		if err := a.InitializeCore(); err != nil {
			a.initErr = err
			return
		}
		if err := a.initializeServer(); err != nil {
			a.initErr = fmt.Errorf("ошибка настройки сервера: %w", err)
			return
		}
		a.logger.Info("приложение готово к работе")
	})
	return a.initErr
}

// InitializeCore собирает все, кроме HTTP: конфиг, логгер, хранилище, кэш, usecase.
// Этого достаточно для команд export и import.
func (a *App) InitializeCore() error {
	a.coreOnce.Do(func() {
		a.coreErr = a.doInitializeCore()
	})
	return a.coreErr
}

// doInitializeCore собирает зависимости. Порядок важен:
// конфиг -> логгер -> хранилище -> кэш -> бизнес-логика.
func (a *App) doInitializeCore() error {
	// 1. Конфиг читаем первым, из него берем уровень логирования.
	// Провайдер держит снимок настроек и перечитывает файл при изменениях.
	provider, err := config.NewProvider(a.configPath, zap.NewNop())
	if err != nil {
		return fmt.Errorf("критическая ошибка конфигурации: %w", err)
	}
	cfg := provider.Config()

	// 2. Логгер.
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return fmt.Errorf("не удалось инициализировать логгер: %w", err)
	}
	a.logger = logger.Get()
	a.provider = provider.WithLogger(a.logger)
	a.config = a.provider.Config()
	a.logger.Info("конфигурация загружена",
		zap.String("storage", a.config.Storage.Driver),
		zap.String("source", a.config.LLMS.Source),
		zap.String("address", a.config.Server.Address()),
	)

	// 3. Хранилище контента.
	a.storage, err = a.openStorage()
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}

	a.metrics = metrics.New()

	// 4. Кэш поверх хранилища (Cache-Aside).
	repo := a.storage.repo
	if a.config.Cache.Enabled {
		a.cache = cache.New(cache.Options{
			ShardCount: a.config.Cache.Shards,
			TTL:        a.config.Cache.TTL,
		})
		a.cache.StartCleanupWorker()

		a.cached = repositories.NewCachedRepository(repo, a.cache, a.logger).WithObserver(a.metrics)
		repo = a.cached

		// Файлы поменялись, старые ответы из кэша больше не годятся.
		if a.storage.files != nil {
			a.storage.files.OnReload(func() {
				a.cached.Invalidate(a.ctx)
			})
		}
	}

	// 5. Бизнес-логика.
	a.usecase = usecases.NewLLMSUsecase(repo, a.provider, a.metrics, a.logger, usecases.Options{
		MaxConcurrentRenders: a.config.Concurrency.RenderWorkers,
		ExportWorkers:        a.config.Concurrency.ExportWorkers,
	})

	return nil
}

// openStorage открывает хранилище, выбранное в storage.driver.
func (a *App) openStorage() (*storage, error) {
	sc := a.config.Storage

	switch sc.Driver {
	case config.DriverFiles:
		files, err := repositories.NewFileRepository(repositories.FileOptions{
			ContentDir: sc.ContentDir,
			ScopedDir:  sc.ScopedDir,
			BaseURL:    a.config.Site.HomeURL,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		docs, scoped := files.Counts()
		a.logger.Info("контент загружен из файлов",
			zap.String("content_dir", sc.ContentDir),
			zap.Int("документов", docs),
			zap.Int("областей", scoped),
		)
		return &storage{repo: files, files: files, close: func() error { return nil }}, nil

	case config.DriverReindexer:
		return a.withRetries(func() (*storage, error) {
			repo, err := repositories.NewReindexerRepository(sc.DSN, sc.MaxConnections, a.logger)
			if err != nil {
				return nil, err
			}
			return &storage{repo: repo, store: repo, checker: repo, close: repo.Close}, nil
		})

	case config.DriverSQLite, config.DriverPostgres:
		return a.withRetries(func() (*storage, error) {
			db, err := repositories.OpenBunDB(sc.Driver, sc.DSN)
			if err != nil {
				return nil, err
			}
			repo := repositories.NewBunRepository(db)
			return &storage{repo: repo, store: repo, checker: repo, close: repo.Close}, nil
		})
	}

	return nil, fmt.Errorf("неизвестный драйвер хранилища %q", sc.Driver)
}

// withRetries подключается к внешнему хранилищу с повторными попытками,
// потому что база может стартовать медленнее приложения.
// После подключения проверяет связь и создает коллекции, если их нет.
func (a *App) withRetries(open func() (*storage, error)) (*storage, error) {
	var err error

	for attempt := 0; attempt < healthCheckRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("повторная попытка подключения к хранилищу",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", healthCheckRetryDelay),
			)
			select {
			case <-a.ctx.Done():
				return nil, a.ctx.Err()
			case <-time.After(healthCheckRetryDelay):
			}
		}

		s, openErr := open()
		if openErr != nil {
			err = openErr
			a.logger.Warn("не удалось открыть хранилище",
				zap.Int("попытка", attempt+1),
				zap.Error(openErr),
			)
			continue
		}

		// Есть ли живой коннект?
		ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
		checkErr := s.checker.CheckConnection(ctx)
		cancel()
		if checkErr != nil {
			_ = s.close()
			err = checkErr
			a.logger.Warn("нет связи с хранилищем",
				zap.Int("попытка", attempt+1),
				zap.Error(checkErr),
			)
			continue
		}

		// На месте ли коллекции (таблицы)? Если нет, создаем.
		ctx, cancel = context.WithTimeout(a.ctx, 10*time.Second)
		ensureErr := s.checker.EnsureCollections(ctx)
		cancel()
		if ensureErr != nil {
			_ = s.close()
			err = ensureErr
			a.logger.Warn("проблема с коллекциями",
				zap.Int("попытка", attempt+1),
				zap.Error(ensureErr),
			)
			continue
		}

		a.logger.Info("хранилище успешно инициализировано",
			zap.String("driver", a.config.Storage.Driver),
			zap.Int("попыток_затрачено", attempt+1),
		)
		return s, nil
	}

	return nil, fmt.Errorf("не удалось подключиться к хранилищу после %d попыток: %w", healthCheckRetries, err)
}

// initializeServer настраивает HTTP-роутинг и middleware.
func (a *App) initializeServer() error {
	var fallback http.Handler
	if a.config.Server.UpstreamURL != "" {
		upstream, err := url.Parse(a.config.Server.UpstreamURL)
		if err != nil {
			return fmt.Errorf("неверный upstream_url: %w", err)
		}
		fallback = handlers.NewProxyHandler(upstream, a.usecase, a.logger)
	} else {
		fallback = handlers.NewPageHandler(a.usecase, func() string {
			return a.provider.GetConfiguration().Site.Name
		}, a.logger)
	}

	llmsHandler := handlers.NewLLMSHandler(a.usecase, fallback, a.logger)
	healthHandler := handlers.NewHealthHandler(a.storage.checker, a.cache, a.config.Storage.Driver, a.logger)

	r := chi.NewRouter()

	// Ограничитель скорости, чтобы нас не завалили запросами.
	rateLimiter := middleware.NewRateLimiter(a.config.Concurrency.HTTPMaxWorkers, time.Second)

	// Служебные маршруты без middleware, чтобы отвечать максимально быстро и надежно.
	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", a.metrics.Handler())

	// Цепочка middleware:
	// 1. Логирование
	// 2. Recovery (паника не должна уронить весь сервер)
	// 3. Timeout
	// 4. Rate Limit
	r.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(a.logger))
		r.Use(middleware.RecoveryMiddleware(a.logger))
		r.Use(middleware.TimeoutMiddleware(a.config.Server.RequestTimeout))
		r.Use(middleware.RateLimitMiddleware(rateLimiter, a.logger))
		r.Use(middleware.VaryAccept)

		r.Handle("/*", llmsHandler)
	})

	a.server = &http.Server{
		Addr:              a.config.Server.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      a.config.Server.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return nil
}

// StartBackgroundJobs запускает фоновые процессы: слежение за файлами и конфигом,
// периодическую проверку хранилища.
func (a *App) StartBackgroundJobs() {
	if a.storage.files != nil && a.config.Storage.Watch {
		if err := a.storage.files.Watch(a.ctx); err != nil {
			a.logger.Warn("не удалось включить слежение за контентом", zap.Error(err))
		}
	}

	a.provider.Watch()

	if a.storage.checker != nil {
		a.wg.Add(1)
		go a.periodicHealthCheck()
	}
}

// periodicHealthCheck раз в 30 секунд пишет в лог состояние хранилища.
func (a *App) periodicHealthCheck() {
	defer a.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("фоновая проверка здоровья остановлена")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
			if err := a.storage.checker.CheckConnection(ctx); err != nil {
				a.logger.Warn("фоновая проверка: проблема с хранилищем", zap.Error(err))
			} else {
				a.logger.Debug("фоновая проверка: полёт нормальный")
			}
			cancel()
		}
	}
}

// Start запускает сервер в отдельной горутине.
// Ошибка прослушивания порта возвращается в errc.
func (a *App) Start() (<-chan error, error) {
	if err := a.Initialize(); err != nil {
		return nil, err
	}

	a.StartBackgroundJobs()

	errc := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("запуск HTTP сервера", zap.String("адрес", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("сервер упал с ошибкой", zap.Error(err))
			errc <- err
		}
	}()

	return errc, nil
}

// Shutdown аккуратно останавливает приложение, дождавшись текущих запросов.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		log := a.logger
		if log == nil {
			log = zap.NewNop()
		}
		log.Info("начинаем остановку приложения...")

		// 1. Сигнал всем фоновым задачам остановиться
		a.cancel()

		// 2. Останавливаем прием новых HTTP запросов
		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				log.Error("ошибка при остановке сервера", zap.Error(err))
				shutdownErr = err
			}
			cancel()
		}

		// 3. Останавливаем чистильщик кэша
		if a.cache != nil {
			a.cache.StopCleanupWorker()
		}

		// 4. Закрываем хранилище
		if a.storage != nil {
			if err := a.storage.close(); err != nil {
				log.Error("ошибка при закрытии хранилища", zap.Error(err))
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		// 5. Ждем, пока все горутины действительно завершатся
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			log.Info("все фоновые процессы завершены")
		case <-time.After(shutdownTimeout):
			log.Warn("таймаут ожидания завершения процессов (принудительный выход)")
		}

		log.Info("приложение остановлено")
		_ = log.Sync()
	})

	return shutdownErr
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
