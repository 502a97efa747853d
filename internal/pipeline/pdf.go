package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"friday/internal/domain"
)

var pdfMagic = []byte("%PDF-")

func pdfStages(reader PDFReader, opts Options) []Stage {
	return []Stage{
		NewStage(StageValidate, func(sc *StageContext, w Work) (Work, error) {
			path, _, err := checkLocalFile(w.Input)
			if err != nil {
				return w, err
			}
			if err := checkPDFHeader(path); err != nil {
				return w, err
			}
			w.SourcePath = path
			w.Source = path
			sc.Emit(100, "input verified")
			return w, nil
		}),
		NewStage(StageExtractText, func(sc *StageContext, w Work) (Work, error) {
			if reader == nil {
				return w, missingCapability("pdf reader")
			}
			info, err := reader.Info(sc.Context(), w.SourcePath)
			if err != nil {
				return w, err
			}
			if info.Pages <= 0 {
				return w, domain.InputError(nil, "document has no pages")
			}
			pages := info.Pages
			if pages > opts.MaxPDFPages {
				sc.Logger().Warn("truncating document", "pages", info.Pages, "limit", opts.MaxPDFPages)
				w.Notes = append(w.Notes, fmt.Sprintf("Only the first %d of %d pages were processed.", opts.MaxPDFPages, info.Pages))
				pages = opts.MaxPDFPages
			}
			w.PageCount = pages
			w.Title = strings.TrimSpace(info.Title)

			w.Pages = make([]string, 0, pages)
			for page := 1; page <= pages; page++ {
				if err := sc.Checkpoint(); err != nil {
					return w, err
				}
				text, err := reader.ExtractPage(sc.Context(), w.SourcePath, page)
				if err != nil {
					return w, err
				}
				w.Pages = append(w.Pages, text)
				sc.Emit(page*100/pages, fmt.Sprintf("extracted page %d/%d", page, pages))
			}
			return w, nil
		}),
		NewStage(StageConvertMarkdown, func(sc *StageContext, w Work) (Work, error) {
			if err := sc.Checkpoint(); err != nil {
				return w, err
			}
			w.Title = titleOr(w.Title, w.Input)
			path, err := writeArtifact(sc, "document.md", renderPDFMarkdown(w.Title, w.Pages, w.Notes))
			if err != nil {
				return w, err
			}
			w.Primary = path
			sc.Emit(100, "markdown written")
			return w, nil
		}),
		NewStage(StageExtractAssets, func(sc *StageContext, w Work) (Work, error) {
			if reader == nil {
				return w, missingCapability("pdf reader")
			}
			assets, err := renderPages(sc, reader, w.SourcePath, w.PageCount, opts.RenderConcurrency)
			if err != nil {
				return w, err
			}
			w.Assets = append(w.Assets, assets...)
			return w, nil
		}),
		persistStage(),
	}
}

func checkPDFHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.InputError(err, "cannot open %s", path)
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return domain.InputError(err, "cannot read %s", path)
	}
	// The header may follow a few junk bytes.
	if !bytes.Contains(head[:n], pdfMagic) {
		return domain.InputError(nil, "not a PDF document: %s", path)
	}
	return nil
}

// renderPages renders page images concurrently, returning them in page order.
func renderPages(sc *StageContext, reader PDFReader, path string, pages, concurrency int) ([]string, error) {
	if pages == 0 {
		return nil, nil
	}
	out := make([]string, pages)

	var (
		mu   sync.Mutex
		done int
	)
	g, ctx := errgroup.WithContext(sc.Context())
	g.SetLimit(concurrency)
	for page := 1; page <= pages; page++ {
		if err := sc.Checkpoint(); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dest, err := sc.Staging().Path(fmt.Sprintf("assets/page-%04d.png", page))
			if err != nil {
				return err
			}
			if err := reader.RenderPage(ctx, path, page, dest); err != nil {
				return err
			}
			out[page-1] = dest

			mu.Lock()
			done++
			progress := done * 100 / pages
			mu.Unlock()
			sc.Emit(progress, fmt.Sprintf("rendered page %d", page))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if cerr := sc.Checkpoint(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	if err := sc.Checkpoint(); err != nil {
		return nil, err
	}
	return out, nil
}

func renderPDFMarkdown(title string, pages []string, notes []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, note := range notes {
		fmt.Fprintf(&b, "> %s\n\n", note)
	}
	for i, page := range pages {
		fmt.Fprintf(&b, "## Page %d\n\n", i+1)
		for _, para := range reflow(page) {
			b.WriteString(para)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// reflow joins hard-wrapped lines into paragraphs. Blank lines separate
// paragraphs; a trailing hyphen joins the word across lines.
func reflow(text string) []string {
	text = strings.ReplaceAll(text, "\f", "\n")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		paras   []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			paras = append(paras, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		if current.Len() > 0 {
			prev := current.String()
			if strings.HasSuffix(prev, "-") {
				current.Reset()
				current.WriteString(strings.TrimSuffix(prev, "-"))
			} else {
				current.WriteByte(' ')
			}
		}
		current.WriteString(line)
	}
	flush()
	return paras
}
