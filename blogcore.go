package blogcore

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPageSize is used when neither the caller nor the options set a page size.
const DefaultPageSize = 5

// Blog is the main struct for interacting with the blog core.
// It coordinates posts with their tags, images, comments, and likes on top of a record store
// and a blob store.
type Blog struct {
	store             Store
	blobs             BlobStore
	tags              *TagReconciler
	images            *ImageManager
	render            RenderFunc
	validate          *validator.Validate
	logger            *slog.Logger
	tracer            trace.Tracer
	metrics           *Metrics
	pageSize          int
	frontmatterFormat FrontmatterFormat
	now               func() time.Time
}

// Options is a struct for configuring a new Blog instance.
type Options struct {
	Store             Store             // Store is the record store. Required.
	Blobs             BlobStore         // Blobs is where uploaded images are kept. Required.
	Logger            *slog.Logger      // Logger is the logger used by the blog. Default is an info logger to stderr.
	Renderer          RenderFunc        // Renderer turns post bodies into HTML. Default is DefaultRenderer.
	PageSize          int               // PageSize is the default number of posts per page. Default is DefaultPageSize.
	FrontmatterFormat FrontmatterFormat // FrontmatterFormat is used when exporting posts. Default is YAML.
	Tracer            trace.Tracer      // Tracer is the OpenTelemetry tracer. Default is the global tracer.
	Meter             metric.Meter      // Meter is the OpenTelemetry meter. Default is the global meter.
}

// New creates a new Blog instance with the provided options.
func New(opts Options) (*Blog, error) {
	if opts.Store == nil || opts.Blobs == nil {
		return nil, errors.New("Store and Blobs are required")
	}

	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	if opts.Renderer == nil {
		opts.Renderer = DefaultRenderer()
	}

	if opts.PageSize < 1 {
		opts.PageSize = DefaultPageSize
	}

	if opts.FrontmatterFormat == "" {
		opts.FrontmatterFormat = FrontmatterYAML
	}

	if opts.Tracer == nil {
		opts.Tracer = defaultTracer()
	}

	if opts.Meter == nil {
		opts.Meter = defaultMeter()
	}

	return &Blog{
		store:             opts.Store,
		blobs:             opts.Blobs,
		tags:              NewTagReconciler(opts.Logger),
		images:            NewImageManager(opts.Blobs, opts.Logger),
		render:            opts.Renderer,
		validate:          validator.New(),
		logger:            opts.Logger,
		tracer:            opts.Tracer,
		metrics:           initMetrics(opts.Meter, opts.Logger),
		pageSize:          opts.PageSize,
		frontmatterFormat: opts.FrontmatterFormat,
		now:               func() time.Time { return time.Now().UTC() },
	}, nil
}

// PageSize returns the configured default page size
func (b *Blog) PageSize() int {
	return b.pageSize
}

// Close closes the underlying record store.
func (b *Blog) Close() error {
	return b.store.Close()
}

// validatePost trims the input and checks the required fields
func (b *Blog) validatePost(in PostInput) (PostInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := b.validate.Struct(in); err != nil {
		return in, validationError(err, map[string]error{"Title": ErrTitleRequired})
	}
	return in, nil
}

// validationError maps the first failed field to its sentinel error
func validationError(err error, byField map[string]error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if fieldErr, ok := byField[verrs[0].Field()]; ok {
			return fieldErr
		}
		return fmt.Errorf("%w: %s failed on %s", ErrValidation, verrs[0].Field(), verrs[0].Tag())
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
