package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece glyphs are generated geometric silhouettes on a 45x45 viewbox,
// rasterised once per (piece, size) and cached.

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	svg := pieceSVG(piece)
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}

func pieceSVG(piece nchess.Piece) []byte {
	fill, stroke := "#f8f8f8", "#1a1a1a"
	if piece.Color() == nchess.Black {
		fill, stroke = "#202020", "#e8e8e8"
	}

	var body string
	switch piece.Type() {
	case nchess.King:
		// crowned disc with a cross
		body = `<circle cx="22.5" cy="26" r="12"/>` +
			`<path d="M20.5,6 h4 v5 h5 v4 h-5 v5 h-4 v-5 h-5 v-4 h5 z"/>`
	case nchess.Queen:
		// disc with five spikes
		body = `<circle cx="22.5" cy="28" r="11"/>` +
			`<path d="M8,22 L13,8 L17,20 L22.5,6 L28,20 L32,8 L37,22 z"/>`
	case nchess.Rook:
		// crenellated tower
		body = `<path d="M12,40 v-6 h3 v-16 h-3 v-10 h5 v4 h4 v-4 h5 v4 h4 v-4 h5 v10 h-3 v16 h3 v6 z"/>`
	case nchess.Bishop:
		// mitre with a slit
		body = `<path d="M22.5,6 C29,12 32,18 32,24 C32,31 28,35 22.5,35 C17,35 13,31 13,24 C13,18 16,12 22.5,6 z"/>` +
			`<rect x="21" y="36" width="3" height="5"/>`
	case nchess.Knight:
		// angular head
		body = `<path d="M12,40 L12,32 L20,24 L16,20 L22,8 L30,12 L33,22 L33,40 z"/>`
	default:
		// pawn
		body = `<circle cx="22.5" cy="15" r="7"/>` +
			`<path d="M14,40 L17,24 h11 L31,40 z"/>`
	}

	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">`+
			`<g style="fill:%s;stroke:%s;stroke-width:1.5">%s</g></svg>`,
		fill, stroke, body)
	return []byte(svg)
}
