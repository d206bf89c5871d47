package printful

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Product is the normalized form of a Printful sync product.
type Product struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"externalId"`
	Name       string    `json:"name"`
	Thumbnail  string    `json:"thumbnail"`
	Variants   []Variant `json:"variants"`
}

// Variant is a purchasable option of a Product.
type Variant struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	SKU    string `json:"sku"`
	Price  int64  `json:"price"`
	Mockup string `json:"mockup,omitempty"`
}

// ProductsFile is written by WriteProducts under the output directory.
const ProductsFile = "printful-products.json"

// WriteProducts writes the catalog to dir. It reports whether the file
// content changed.
func WriteProducts(dir string, products []Product) (bool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, errors.Wrap(err, "create output dir")
	}
	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return false, errors.Wrap(err, "encode products")
	}
	path := filepath.Join(dir, ProductsFile)
	if old, err := os.ReadFile(path); err == nil && string(old) == string(data) {
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, errors.Wrap(err, "write products")
	}
	return true, nil
}

func mockupPath(dir string, v Variant) string {
	return filepath.Join(dir, "mockups", fmt.Sprintf("%d.jpg", v.ID))
}

// DownloadMockups saves the mockup of every variant under dir/mockups. With
// smart set, mockups already on disk are skipped.
func (c *Client) DownloadMockups(ctx context.Context, dir string, products []Product, smart bool) ([]string, error) {
	if err := os.MkdirAll(filepath.Join(dir, "mockups"), 0o755); err != nil {
		return nil, errors.Wrap(err, "create mockup dir")
	}
	var paths []string
	for _, p := range products {
		for _, v := range p.Variants {
			if v.Mockup == "" {
				continue
			}
			path := mockupPath(dir, v)
			paths = append(paths, path)
			if _, err := os.Stat(path); smart && err == nil {
				continue
			}
			if err := c.saveMockup(ctx, v.Mockup, path); err != nil {
				return nil, err
			}
		}
	}
	return paths, nil
}

func (c *Client) saveMockup(ctx context.Context, url, path string) error {
	tmp := path + ".part"
	if err := c.download(ctx, url, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return errors.Wrap(os.Rename(tmp, path), "store mockup")
}

// ResizedPath is where ResizeMockups writes the resized copy of path.
func ResizedPath(path string, width int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), width, ext)
}

// ResizeMockups writes a copy of each image scaled to width, keeping the
// aspect ratio. Images narrower than width are copied as is.
func ResizeMockups(paths []string, width int) error {
	for _, path := range paths {
		if err := resize(path, ResizedPath(path, width), width); err != nil {
			return err
		}
	}
	return nil
}

func resize(src, dst string, width int) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open mockup")
	}
	defer in.Close()
	img, _, err := image.Decode(in)
	if err != nil {
		return errors.Wrapf(err, "decode %s", src)
	}

	b := img.Bounds()
	out := img
	if b.Dx() > width {
		height := b.Dy() * width / b.Dx()
		scaled := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)
		out = scaled
	}

	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "create resized mockup")
	}
	if err := jpeg.Encode(f, out, &jpeg.Options{Quality: 85}); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", dst)
	}
	return errors.Wrap(f.Close(), "close resized mockup")
}
