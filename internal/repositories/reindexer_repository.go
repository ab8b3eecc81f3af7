package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restream/reindexer/v4"
	// cproto (RPC) быстрее встроенного HTTP-протокола.
	_ "github.com/restream/reindexer/v4/bindings/cproto"
	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/domain"
)

const (
	documentsNamespace = "documents"
	scopedNamespace    = "scoped_documents"

	defaultMaxRetries     = 3
	defaultRetryDelay     = 1 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultQueryTimeout   = 5 * time.Second
)

var errNoConnection = errors.New("нет доступного соединения с БД")

// HealthStatus хранит текущее состояние подключения к базе.
type HealthStatus struct {
	IsHealthy   bool
	LastCheck   time.Time
	LastError   error
	Connections int
}

// documentRecord: плоское представление документа в неймспейсе documents.
// Даты храним в unix-секундах, чтобы по ним работали tree-индексы.
type documentRecord struct {
	ID          string `reindex:"id,,pk" json:"id"`
	Type        string `reindex:"type" json:"type"`
	Status      string `reindex:"status" json:"status"`
	Path        string `reindex:"path" json:"path"`
	Title       string `reindex:"title,tree" json:"title"`
	Body        string `json:"body"`
	AuthorName  string `json:"author_name"`
	AuthorLogin string `json:"author_login"`
	PublishedAt int64  `reindex:"published_at,tree" json:"published_at"`
	ModifiedAt  int64  `json:"modified_at"`
	Permalink   string `json:"permalink"`
}

// scopedRecord: запись неймспейса scoped_documents.
type scopedRecord struct {
	ID             string `reindex:"id,,pk" json:"id"`
	Status         string `reindex:"status" json:"status"`
	Title          string `reindex:"title,tree" json:"title"`
	Body           string `json:"body"`
	AuthorName     string `json:"author_name"`
	AuthorLogin    string `json:"author_login"`
	PublishedAt    int64  `reindex:"published_at,tree" json:"published_at"`
	ModifiedAt     int64  `json:"modified_at"`
	Permalink      string `json:"permalink"`
	Scope          string `json:"scope"`
	OutputParent   string `reindex:"output_parent" json:"output_parent"`
	AuthorityLevel string `json:"authority_level"`
	ContentType    string `json:"content_type"`
}

// ReindexerRepository хранит контент в Reindexer.
// Умеет держать пул соединений, следить за здоровьем базы и
// отдавать документы и scoped-документы по правилам ContentRepository.
type ReindexerRepository struct {
	dsn    string
	logger *zap.Logger

	mu          sync.RWMutex
	db          *reindexer.Reindexer   // главное соединение
	connections []*reindexer.Reindexer // пул для параллельных запросов
	poolSize    int
	next        atomic.Uint64 // счетчик для round-robin

	healthStatus atomic.Pointer[HealthStatus]

	collectionsInitialized atomic.Bool
	collectionsMu          sync.Mutex
}

// NewReindexerRepository создает репозиторий и сразу подключается к базе.
func NewReindexerRepository(dsn string, maxConnections int, logger *zap.Logger) (*ReindexerRepository, error) {
	if maxConnections < 1 {
		maxConnections = 1
	}

	repo := &ReindexerRepository{
		dsn:      dsn,
		logger:   logger,
		poolSize: maxConnections,
	}
	repo.healthStatus.Store(&HealthStatus{LastCheck: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := repo.Connect(ctx); err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе: %w", err)
	}

	return repo, nil
}

// Connect устанавливает соединение с несколькими попытками.
func (r *ReindexerRepository) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if attempt > 0 {
			delay := defaultRetryDelay * time.Duration(attempt)
			r.logger.Info("повторная попытка подключения",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		db := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
		if err := ping(ctx, db); err != nil {
			lastErr = err
			db.Close()
			r.logger.Warn("тест соединения провален", zap.Int("попытка", attempt+1), zap.Error(err))
			continue
		}

		r.closeLocked()
		r.db = db

		r.connections = make([]*reindexer.Reindexer, 0, r.poolSize)
		for i := 0; i < r.poolSize; i++ {
			conn := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
			if err := ping(ctx, conn); err != nil {
				conn.Close()
				r.logger.Warn("не удалось создать соединение в пуле", zap.Int("индекс", i), zap.Error(err))
				continue
			}
			r.connections = append(r.connections, conn)
		}

		// после переподключения неймспейсы надо открыть заново
		r.collectionsInitialized.Store(false)
		r.updateHealthStatus(true, nil, len(r.connections)+1)
		r.logger.Info("подключились к Reindexer", zap.Int("размер_пула", len(r.connections)))
		return nil
	}

	r.updateHealthStatus(false, lastErr, 0)
	return fmt.Errorf("не удалось подключиться после %d попыток: %w", defaultMaxRetries, lastErr)
}

func ping(ctx context.Context, db *reindexer.Reindexer) error {
	if db == nil {
		return errNoConnection
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.Status().Err
}

// conn выбирает соединение из пула по кругу.
func (r *ReindexerRepository) conn() (*reindexer.Reindexer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.connections) == 0 {
		if r.db == nil {
			return nil, errNoConnection
		}
		return r.db, nil
	}
	i := r.next.Add(1) % uint64(len(r.connections))
	return r.connections[i], nil
}

func (r *ReindexerRepository) updateHealthStatus(isHealthy bool, err error, connections int) {
	r.healthStatus.Store(&HealthStatus{
		IsHealthy:   isHealthy,
		LastCheck:   time.Now(),
		LastError:   err,
		Connections: connections,
	})
}

func (r *ReindexerRepository) markFailed(err error) {
	r.updateHealthStatus(false, err, r.Health().Connections)
}

// Health возвращает последний известный статус без блокировок.
func (r *ReindexerRepository) Health() HealthStatus {
	if st := r.healthStatus.Load(); st != nil {
		return *st
	}
	return HealthStatus{}
}

// EnsureCollections открывает (и при необходимости создает) неймспейсы
// на главном соединении и на всех соединениях пула.
func (r *ReindexerRepository) EnsureCollections(ctx context.Context) error {
	if r.collectionsInitialized.Load() {
		return nil
	}

	r.collectionsMu.Lock()
	defer r.collectionsMu.Unlock()

	if r.collectionsInitialized.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	db := r.db
	pool := append([]*reindexer.Reindexer(nil), r.connections...)
	r.mu.RUnlock()

	if db == nil {
		return errNoConnection
	}

	opts := reindexer.DefaultNamespaceOptions()
	namespaces := []struct {
		name     string
		template any
	}{
		{documentsNamespace, documentRecord{}},
		{scopedNamespace, scopedRecord{}},
	}

	for _, ns := range namespaces {
		if err := db.OpenNamespace(ns.name, opts, ns.template); err != nil {
			return fmt.Errorf("ошибка открытия неймспейса %s: %w", ns.name, err)
		}
		for i, conn := range pool {
			if err := conn.OpenNamespace(ns.name, opts, ns.template); err != nil {
				r.logger.Warn("ошибка открытия неймспейса для соединения из пула",
					zap.String("namespace", ns.name),
					zap.Int("индекс", i),
					zap.Error(err),
				)
			}
		}
	}

	r.collectionsInitialized.Store(true)
	r.logger.Info("коллекции инициализированы",
		zap.Strings("namespaces", []string{documentsNamespace, scopedNamespace}))
	return nil
}

// SaveDocument сохраняет (upsert) документ.
func (r *ReindexerRepository) SaveDocument(ctx context.Context, doc *domain.Document) error {
	return r.upsert(ctx, documentsNamespace, doc.ID, toDocumentRecord(doc))
}

// SaveScopedDocument сохраняет (upsert) scoped-документ.
func (r *ReindexerRepository) SaveScopedDocument(ctx context.Context, doc *domain.ScopedDocument) error {
	return r.upsert(ctx, scopedNamespace, doc.ID, toScopedRecord(doc))
}

func (r *ReindexerRepository) upsert(ctx context.Context, namespace, id string, item any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if err := r.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db, err := r.conn()
	if err != nil {
		return err
	}

	if err := db.Upsert(namespace, item); err != nil {
		r.logger.Error("ошибка сохранения", zap.String("namespace", namespace), zap.String("id", id), zap.Error(err))
		r.markFailed(err)
		return fmt.Errorf("ошибка при сохранении %s/%s: %w", namespace, id, err)
	}
	return nil
}

// GetDocument получает опубликованный документ по ID.
func (r *ReindexerRepository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	items, err := r.query(ctx, documentsNamespace, func(q *reindexer.Query) *reindexer.Query {
		return q.Where("id", reindexer.EQ, id).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("документ %s: %w", id, domain.ErrNotFound)
	}
	return items[0].(*documentRecord).toDomain(), nil
}

// GetDocumentByPath ищет опубликованный документ по пути на сайте.
func (r *ReindexerRepository) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	path = domain.CleanPath(path)
	items, err := r.query(ctx, documentsNamespace, func(q *reindexer.Query) *reindexer.Query {
		return q.Where("path", reindexer.EQ, path).Sort("published_at", true).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("документ по пути %s: %w", path, domain.ErrNotFound)
	}
	return items[0].(*documentRecord).toDomain(), nil
}

// ListDocuments возвращает документы типа docType, новые сверху.
func (r *ReindexerRepository) ListDocuments(ctx context.Context, docType string, limit int) ([]*domain.Document, error) {
	items, err := r.query(ctx, documentsNamespace, func(q *reindexer.Query) *reindexer.Query {
		q = q.Where("type", reindexer.EQ, docType).Sort("published_at", true)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	docs := make([]*domain.Document, 0, len(items))
	for _, item := range items {
		docs = append(docs, item.(*documentRecord).toDomain())
	}
	return docs, nil
}

// GetScopedDocument получает scoped-документ по ID.
func (r *ReindexerRepository) GetScopedDocument(ctx context.Context, id string) (*domain.ScopedDocument, error) {
	items, err := r.query(ctx, scopedNamespace, func(q *reindexer.Query) *reindexer.Query {
		return q.Where("id", reindexer.EQ, id).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("scoped-документ %s: %w", id, domain.ErrNotFound)
	}
	return items[0].(*scopedRecord).toDomain(), nil
}

// FindScopedDocumentByParent возвращает первый scoped-документ с данным
// output_parent. При дублях побеждает самый свежий.
func (r *ReindexerRepository) FindScopedDocumentByParent(ctx context.Context, parent string) (*domain.ScopedDocument, error) {
	parent = domain.CleanParent(parent)
	items, err := r.query(ctx, scopedNamespace, func(q *reindexer.Query) *reindexer.Query {
		return q.Where("output_parent", reindexer.EQ, parent).Sort("published_at", true).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("scoped-документ для %q: %w", parent, domain.ErrNotFound)
	}
	return items[0].(*scopedRecord).toDomain(), nil
}

// ListScopedDocuments возвращает все scoped-документы по алфавиту.
func (r *ReindexerRepository) ListScopedDocuments(ctx context.Context) ([]*domain.ScopedDocument, error) {
	items, err := r.query(ctx, scopedNamespace, func(q *reindexer.Query) *reindexer.Query {
		return q.Sort("title", false)
	})
	if err != nil {
		return nil, err
	}

	docs := make([]*domain.ScopedDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, item.(*scopedRecord).toDomain())
	}
	return docs, nil
}

// query выполняет запрос к неймспейсу, отбирая только опубликованные записи.
func (r *ReindexerRepository) query(ctx context.Context, namespace string, build func(*reindexer.Query) *reindexer.Query) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if err := r.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	q := build(db.Query(namespace).Where("status", reindexer.EQ, domain.StatusPublished))
	iter := q.Exec()
	defer iter.Close()

	if err := iter.Error(); err != nil {
		r.logger.Error("ошибка выполнения запроса", zap.String("namespace", namespace), zap.Error(err))
		r.markFailed(err)
		return nil, fmt.Errorf("ошибка запроса к %s: %w", namespace, err)
	}

	var items []any
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items = append(items, iter.Object())
	}
	return items, nil
}

// CheckConnection проверяет связь с базой (для health check'ов).
func (r *ReindexerRepository) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if err := ping(ctx, db); err != nil {
		r.markFailed(err)
		return fmt.Errorf("проверка связи не прошла: %w", err)
	}

	r.updateHealthStatus(true, nil, r.Health().Connections)
	return nil
}

// Close закрывает все соединения.
func (r *ReindexerRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	r.updateHealthStatus(false, errors.New("соединение закрыто"), 0)
	return nil
}

func (r *ReindexerRepository) closeLocked() {
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
	for _, conn := range r.connections {
		if conn != nil {
			conn.Close()
		}
	}
	r.connections = nil
}

func toDocumentRecord(doc *domain.Document) *documentRecord {
	return &documentRecord{
		ID:          doc.ID,
		Type:        doc.Type,
		Status:      doc.Status,
		Path:        domain.CleanPath(doc.Path),
		Title:       doc.Title,
		Body:        doc.Body,
		AuthorName:  doc.Author.DisplayName,
		AuthorLogin: doc.Author.Login,
		PublishedAt: unixOrZero(doc.PublishedAt),
		ModifiedAt:  unixOrZero(doc.ModifiedAt),
		Permalink:   doc.Permalink,
	}
}

func (rec *documentRecord) toDomain() *domain.Document {
	return &domain.Document{
		ID:          rec.ID,
		Type:        rec.Type,
		Status:      rec.Status,
		Title:       rec.Title,
		Body:        rec.Body,
		Author:      domain.Author{DisplayName: rec.AuthorName, Login: rec.AuthorLogin},
		PublishedAt: timeOrZero(rec.PublishedAt),
		ModifiedAt:  timeOrZero(rec.ModifiedAt),
		Path:        rec.Path,
		Permalink:   rec.Permalink,
	}
}

func toScopedRecord(doc *domain.ScopedDocument) *scopedRecord {
	return &scopedRecord{
		ID:             doc.ID,
		Status:         doc.Status,
		Title:          doc.Title,
		Body:           doc.Body,
		AuthorName:     doc.Author.DisplayName,
		AuthorLogin:    doc.Author.Login,
		PublishedAt:    unixOrZero(doc.PublishedAt),
		ModifiedAt:     unixOrZero(doc.ModifiedAt),
		Permalink:      doc.Permalink,
		Scope:          doc.Scope,
		OutputParent:   domain.CleanParent(doc.OutputParent),
		AuthorityLevel: doc.AuthorityLevel,
		ContentType:    doc.ContentType,
	}
}

func (rec *scopedRecord) toDomain() *domain.ScopedDocument {
	return &domain.ScopedDocument{
		Document: domain.Document{
			ID:          rec.ID,
			Type:        domain.ScopedDocumentType,
			Status:      rec.Status,
			Title:       rec.Title,
			Body:        rec.Body,
			Author:      domain.Author{DisplayName: rec.AuthorName, Login: rec.AuthorLogin},
			PublishedAt: timeOrZero(rec.PublishedAt),
			ModifiedAt:  timeOrZero(rec.ModifiedAt),
			Permalink:   rec.Permalink,
		},
		Scope:          rec.Scope,
		OutputParent:   rec.OutputParent,
		AuthorityLevel: rec.AuthorityLevel,
		ContentType:    rec.ContentType,
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

var (
	_ domain.ContentRepository = (*ReindexerRepository)(nil)
	_ domain.ContentStore      = (*ReindexerRepository)(nil)
	_ domain.HealthChecker     = (*ReindexerRepository)(nil)
)
