package emotion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okamyuji/wellness-emotion-tracker/internal/cache"
	"github.com/okamyuji/wellness-emotion-tracker/internal/errors"
)

// フォールバックの理由
const (
	ReasonBackendInit        = "backend_init"
	ReasonBackendUnavailable = "backend_unavailable"
	ReasonDecode             = "decode"
	ReasonClassify           = "classify"
	ReasonEmpty              = "empty"
)

// 分析サービスが記録するメトリクス
type Recorder interface {
	RecordAnalysis(emotion string, confidence int, source string)
	RecordFallback(reason string)
	RecordBackendInit(backend string, success bool)
	RecordProcessingTime(operation string, duration time.Duration)
	RecordCacheOperation(hit bool, cacheType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAnalysis(string, int, string)         {}
func (nopRecorder) RecordFallback(string)                      {}
func (nopRecorder) RecordBackendInit(string, bool)             {}
func (nopRecorder) RecordProcessingTime(string, time.Duration) {}
func (nopRecorder) RecordCacheOperation(bool, string)          {}

// サービスのオプション
type ServiceOptions struct {
	Logger  *slog.Logger
	Metrics Recorder
	// 同一フレームの予測結果を再利用するキャッシュ（任意）
	Cache *cache.Manager[[]Prediction]
	// trueの場合、バックエンド初期化の失敗をフォールバックせずに返す
	StrictInit bool
	// 1回の分類に許す時間。0なら無制限
	Timeout time.Duration
	Rand    *rand.Rand
	Now     func() time.Time
}

// 感情分析サービス
// バックエンドは最初の利用時に一度だけ構築され、以後は共有される
type Service struct {
	factory    BackendFactory
	logger     *slog.Logger
	metrics    Recorder
	cache      *cache.Manager[[]Prediction]
	strictInit bool
	timeout    time.Duration
	now        func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	mu           sync.Mutex
	classifier   Classifier
	backend      BackendKind
	initializing bool
}

// 新しいServiceを作成
func NewService(factory BackendFactory, opts ServiceOptions) *Service {
	s := &Service{
		factory:    factory,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		cache:      opts.Cache,
		strictInit: opts.StrictInit,
		timeout:    opts.Timeout,
		now:        opts.Now,
		rand:       opts.Rand,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// バックエンドを初期化する
// 構築済み、または別の呼び出しが構築中の場合は何もせずに戻る
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.classifier != nil || s.initializing {
		s.mu.Unlock()
		return nil
	}
	s.initializing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.initializing = false
		s.mu.Unlock()
	}()

	start := time.Now()
	s.logger.Info("感情分類器を初期化しています")

	classifier, kind, err := s.construct(ctx)
	if err != nil {
		s.logger.Error("感情分類器の初期化に失敗", "error", err)
		return err
	}

	s.mu.Lock()
	s.classifier = classifier
	s.backend = kind
	s.mu.Unlock()

	s.metrics.RecordProcessingTime("backend_init", time.Since(start))
	s.logger.Info("感情分類器を初期化しました", "backend", kind, "elapsed", time.Since(start))
	return nil
}

// 高速バックエンドを優先し、失敗したら標準バックエンドで再試行する
func (s *Service) construct(ctx context.Context) (Classifier, BackendKind, error) {
	accelerated, accelErr := s.factory.New(ctx, BackendAccelerated)
	s.metrics.RecordBackendInit(string(BackendAccelerated), accelErr == nil)
	if accelErr == nil {
		return accelerated, BackendAccelerated, nil
	}
	s.logger.Warn("高速バックエンドが利用できないため標準バックエンドに切り替えます", "error", accelErr)

	standard, defErr := s.factory.New(ctx, BackendDefault)
	s.metrics.RecordBackendInit(string(BackendDefault), defErr == nil)
	if defErr == nil {
		return standard, BackendDefault, nil
	}
	return nil, "", errors.BackendInitError(accelErr, defErr)
}

// 画像データから感情を分析する
// 初期化失敗（StrictInit時）以外のエラーは返さず、ランダムなフォールバック結果を返す
func (s *Service) AnalyzeEmotion(ctx context.Context, dataURI string) (EmotionResult, error) {
	if !s.Ready() {
		if err := s.Initialize(ctx); err != nil {
			if s.strictInit {
				return EmotionResult{}, err
			}
			return s.fallback(ReasonBackendInit, err), nil
		}
	}

	start := time.Now()
	pred, reason, err := s.classify(ctx, dataURI)
	s.metrics.RecordProcessingTime("analyze", time.Since(start))
	if err != nil {
		return s.fallback(reason, err), nil
	}

	result := EmotionResult{
		Emotion:    MapLabel(pred.Label),
		Confidence: ToConfidence(pred.Score),
		Timestamp:  s.now(),
		Source:     SourceModel,
	}
	s.metrics.RecordAnalysis(result.Emotion, result.Confidence, string(result.Source))
	s.logger.Debug("感情を検出", "emotion", result.Emotion, "confidence", result.Confidence, "label", pred.Label)
	return result, nil
}

// デコードと分類を行い、最上位の予測を返す
func (s *Service) classify(ctx context.Context, dataURI string) (Prediction, string, error) {
	classifier := s.current()
	if classifier == nil {
		return Prediction{}, ReasonBackendUnavailable, errors.AnalysisError(ReasonBackendUnavailable, errors.ErrBackendUnavailable)
	}

	img, err := DecodeDataURI(dataURI)
	if err != nil {
		return Prediction{}, ReasonDecode, errors.AnalysisError(ReasonDecode, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	run := func() ([]Prediction, error) {
		start := time.Now()
		defer func() { s.metrics.RecordProcessingTime("classify", time.Since(start)) }()
		return classifyWithin(ctx, classifier, img)
	}

	var preds []Prediction
	if s.cache != nil {
		var hit bool
		preds, hit, err = s.cache.GetOrCompute(ctx, digest(dataURI), func() ([]Prediction, error) {
			p, err := run()
			if err == nil && len(p) == 0 {
				return nil, errors.ErrNoPrediction
			}
			return p, err
		})
		s.metrics.RecordCacheOperation(hit, "predictions")
	} else {
		preds, err = run()
	}

	if errors.Is(err, errors.ErrNoPrediction) {
		return Prediction{}, ReasonEmpty, errors.AnalysisError(ReasonEmpty, err)
	}
	if err != nil {
		return Prediction{}, ReasonClassify, errors.AnalysisError(ReasonClassify, err)
	}

	top, ok := topPrediction(preds)
	if !ok {
		return Prediction{}, ReasonEmpty, errors.AnalysisError(ReasonEmpty, errors.ErrNoPrediction)
	}
	return top, "", nil
}

// ctxが終わった時点で分類を待たずに戻る
// 推論自体は中断できないため、分類器は結果を捨てられるまで走り続ける
func classifyWithin(ctx context.Context, classifier Classifier, img image.Image) ([]Prediction, error) {
	if ctx.Done() == nil {
		return classifier.Classify(ctx, img)
	}

	type outcome struct {
		preds []Prediction
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		preds, err := classifier.Classify(ctx, img)
		done <- outcome{preds: preds, err: err}
	}()

	select {
	case o := <-done:
		return o.preds, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ランダムなフォールバック結果を作る
func (s *Service) fallback(reason string, cause error) EmotionResult {
	s.logger.Warn("感情分析に失敗したためフォールバック結果を返します", "reason", reason, "error", cause)

	s.randMu.Lock()
	emotion := fallbackEmotions[s.rand.IntN(len(fallbackEmotions))]
	confidence := fallbackConfidenceMin + s.rand.IntN(fallbackConfidenceSpan)
	s.randMu.Unlock()

	s.metrics.RecordFallback(reason)
	s.metrics.RecordAnalysis(emotion, confidence, string(SourceFallback))

	return EmotionResult{
		Emotion:    emotion,
		Confidence: confidence,
		Timestamp:  s.now(),
		Source:     SourceFallback,
	}
}

func (s *Service) current() Classifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classifier
}

// バックエンドが構築済みかどうか
func (s *Service) Ready() bool {
	return s.current() != nil
}

// 選択されたバックエンドの種類。未初期化なら空文字
func (s *Service) Backend() BackendKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// バックエンドを解放する
func (s *Service) Close() error {
	s.mu.Lock()
	classifier := s.classifier
	s.classifier = nil
	s.backend = ""
	s.mu.Unlock()

	if classifier == nil {
		return nil
	}
	return classifier.Close()
}

func digest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
