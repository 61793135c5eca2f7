package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hypergopher/blogcore"
	"github.com/hypergopher/blogcore/bboltstore"
	"github.com/hypergopher/blogcore/config"
	"github.com/hypergopher/blogcore/s3blob"
	"github.com/hypergopher/blogcore/sqlitestore"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	cmd := os.Args[1]
	switch cmd {
	case "import":
		err = runImport(ctx, os.Args[2:])
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "list":
		err = runList(ctx, os.Args[2:])
	case "search":
		err = runSearch(ctx, os.Args[2:])
	case "tags":
		err = runTags(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "blogctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("blogctl manages a blog from the command line")
	fmt.Println("\nUsage:")
	fmt.Println("  blogctl import -author ID <dir|file.md>   Import archived markdown posts")
	fmt.Println("  blogctl export [-id ID] <dir>             Export posts as markdown with frontmatter")
	fmt.Println("  blogctl list [-page N] [-size N] [-tag T] List posts, newest first")
	fmt.Println("  blogctl search [-page N] [-size N] <q>    Search post titles")
	fmt.Println("  blogctl tags                              List the tag catalog")
	fmt.Println("\nEvery command accepts -config <file>; BLOG_* environment variables override it.")
}

// commonFlags registers the flags every command shares
func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", os.Getenv("BLOG_CONFIG"), "path to a TOML or YAML config file")
}

// openBlog builds a Blog from the configuration. The returned func closes the blog and flushes
// pending spans.
func openBlog(ctx context.Context, configPath string) (*blogcore.Blog, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, err
	}

	blog, err := newBlog(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracing(context.WithoutCancel(ctx))
		return nil, nil, err
	}

	cleanup := func() {
		if err := blog.Close(); err != nil {
			logger.Error("failed to close store", slog.String("error", err.Error()))
		}
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}

	return blog, cleanup, nil
}

// newBlog wires the configured record and blob stores into a Blog
func newBlog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*blogcore.Blog, error) {
	var err error

	var store blogcore.Store
	switch cfg.Store {
	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err = sqlitestore.Open(cfg.SQLitePath())
	case config.StoreBBolt:
		bbs := bboltstore.New(cfg.DataDir, logger)
		err = bbs.Init()
		store = bbs
	case config.StoreMemory:
		store = blogcore.NewMemoryStore()
	default:
		err = fmt.Errorf("unknown store %q", cfg.Store)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var blobs blogcore.BlobStore
	switch cfg.Blobs {
	case config.BlobsFS:
		blobs, err = blogcore.NewFileBlobStore(cfg.UploadPath())
	case config.BlobsS3:
		blobs, err = s3blob.New(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Endpoint, cfg.S3Prefix)
	case config.BlobsMemory:
		blobs = blogcore.NewMemoryBlobStore()
	default:
		err = fmt.Errorf("unknown blob store %q", cfg.Blobs)
	}
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	return blogcore.New(blogcore.Options{
		Store:             store,
		Blobs:             blobs,
		Logger:            logger,
		PageSize:          cfg.PageSize,
		FrontmatterFormat: blogcore.FrontmatterFormat(cfg.FrontmatterFormat),
	})
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := commonFlags(fs)
	author := fs.Int64("author", 0, "user id the imported posts are attributed to")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("expected one directory or file")
	}
	if *author <= 0 {
		return errors.New("-author is required")
	}

	blog, closeBlog, err := openBlog(ctx, *configPath)
	if err != nil {
		return err
	}
	defer closeBlog()

	who := blogcore.Identity{UserID: *author}
	target := fs.Arg(0)

	info, err := os.Stat(target)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		id, err := blog.ImportFile(ctx, who, target)
		if err != nil {
			return err
		}
		fmt.Printf("imported %s as post %d\n", target, id)
		return nil
	}

	ids, err := blog.ImportDir(ctx, who, target)
	fmt.Printf("imported %d posts\n", len(ids))
	return err
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := commonFlags(fs)
	id := fs.Int64("id", 0, "export only this post")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("expected an output directory")
	}

	blog, closeBlog, err := openBlog(ctx, *configPath)
	if err != nil {
		return err
	}
	defer closeBlog()

	if *id > 0 {
		path, err := blog.ExportPost(ctx, *id, fs.Arg(0))
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	}

	n, err := blog.ExportAll(ctx, fs.Arg(0))
	fmt.Printf("exported %d posts\n", n)
	return err
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := commonFlags(fs)
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", 0, "posts per page, 0 for the configured default")
	tag := fs.String("tag", "", "only posts with this tag")
	_ = fs.Parse(args)

	blog, closeBlog, err := openBlog(ctx, *configPath)
	if err != nil {
		return err
	}
	defer closeBlog()

	var (
		posts      []*blogcore.Post
		pagination blogcore.Pagination
	)
	if *tag != "" {
		posts, pagination, err = blog.ListByTag(ctx, *tag, *page, *size)
	} else {
		posts, pagination, err = blog.List(ctx, *page, *size)
	}
	if err != nil {
		return err
	}

	printPosts(posts, pagination)
	return nil
}

func runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := commonFlags(fs)
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", 0, "posts per page, 0 for the configured default")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("expected a search query")
	}

	blog, closeBlog, err := openBlog(ctx, *configPath)
	if err != nil {
		return err
	}
	defer closeBlog()

	posts, pagination, err := blog.Search(ctx, fs.Arg(0), *page, *size)
	if err != nil {
		return err
	}

	printPosts(posts, pagination)
	return nil
}

func runTags(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tags", flag.ExitOnError)
	configPath := commonFlags(fs)
	_ = fs.Parse(args)

	blog, closeBlog, err := openBlog(ctx, *configPath)
	if err != nil {
		return err
	}
	defer closeBlog()

	tags, err := blog.Tags(ctx)
	if err != nil {
		return err
	}

	for _, tag := range tags {
		fmt.Printf("%d\t%s\n", tag.ID, tag.Name)
	}
	return nil
}

func printPosts(posts []*blogcore.Post, p blogcore.Pagination) {
	for _, post := range posts {
		fmt.Printf("%d\t%s\t%s\t%s\n", post.ID, post.CreatedDate(), post.Title, post.TagString())
	}
	fmt.Printf("page %d of %d (%d posts)\n", p.CurrentPage, p.TotalPages, p.TotalItems)
}
