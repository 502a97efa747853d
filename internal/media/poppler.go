package media

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"friday/internal/domain"
	"friday/internal/logging"
	"friday/internal/pipeline"
)

// Poppler reads PDFs with pdfinfo, pdftotext and pdftoppm.
type Poppler struct {
	info   tool
	text   tool
	render tool
	dpi    int
	stat   func(name string) (os.FileInfo, error)
}

var _ pipeline.PDFReader = (*Poppler)(nil)

// PopplerPaths overrides binary locations; empty values use PATH lookup.
type PopplerPaths struct {
	PDFInfo   string
	PDFToText string
	PDFToPPM  string
}

// NewPoppler builds the production reader.
func NewPoppler(paths PopplerPaths, logger *logging.Logger) *Poppler {
	return newPoppler(paths, &execRunner{}, logger)
}

func newPoppler(paths PopplerPaths, runner commandRunner, logger *logging.Logger) *Poppler {
	return &Poppler{
		info:   newTool(paths.PDFInfo, "pdfinfo", runner, logger),
		text:   newTool(paths.PDFToText, "pdftotext", runner, logger),
		render: newTool(paths.PDFToPPM, "pdftoppm", runner, logger),
		dpi:    72,
		stat:   os.Stat,
	}
}

// Info returns page count and document title.
func (p *Poppler) Info(ctx context.Context, path string) (pipeline.PDFInfo, error) {
	res, err := p.info.run(ctx, domain.KindInput, "pdfinfo", "-enc", "UTF-8", path)
	if err != nil {
		return pipeline.PDFInfo{}, err
	}
	return parsePDFInfo(res.Stdout)
}

// ExtractPage returns the plain text of one 1-based page.
func (p *Poppler) ExtractPage(ctx context.Context, path string, page int) (string, error) {
	n := strconv.Itoa(page)
	res, err := p.text.run(ctx, domain.KindInput, fmt.Sprintf("pdftotext page %d", page),
		"-enc", "UTF-8", "-f", n, "-l", n, path, "-")
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// RenderPage writes a PNG of one page to outPath.
func (p *Poppler) RenderPage(ctx context.Context, path string, page int, outPath string) error {
	if !strings.HasSuffix(outPath, ".png") {
		return domain.InternalError(nil, "render target must end in .png: %s", outPath)
	}
	n := strconv.Itoa(page)
	_, err := p.render.run(ctx, domain.KindInput, fmt.Sprintf("pdftoppm page %d", page),
		"-png", "-r", strconv.Itoa(p.dpi), "-f", n, "-l", n, "-singlefile",
		path, strings.TrimSuffix(outPath, ".png"))
	if err != nil {
		return err
	}
	if _, err := p.stat(outPath); err != nil {
		return domain.InternalError(err, "pdftoppm completed but %s is missing", outPath)
	}
	return nil
}

func parsePDFInfo(out string) (pipeline.PDFInfo, error) {
	var info pipeline.PDFInfo
	found := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Pages":
			n, err := strconv.Atoi(value)
			if err != nil {
				return info, domain.InputError(err, "pdfinfo reported invalid page count %q", value)
			}
			info.Pages = n
			found = true
		case "Title":
			info.Title = value
		}
	}
	if !found {
		return info, domain.InputError(nil, "pdfinfo did not report a page count")
	}
	return info, nil
}
