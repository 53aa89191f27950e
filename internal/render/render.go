// Package render rasterises the current board to PNG for diagnostic bundles.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize = 56
	margin     = 20
	boardSize  = squareSize * 8
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 130}
	backgroundFill = color.RGBA{38, 36, 33, 255}
	coordinateFill = color.NRGBA{R: 220, G: 220, B: 220, A: 255}
)

// Highlight marks the from/to squares of the most recent move.
type Highlight struct {
	From nchess.Square
	To   nchess.Square
}

// PNG renders the board from white's perspective.
func PNG(board *nchess.Board, highlight *Highlight) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}

	total := boardSize + margin*2
	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundFill), image.Point{}, imagedraw.Src)

	origin := image.Point{X: margin, Y: margin}
	drawSquares(img, origin)
	if highlight != nil {
		drawOverlay(img, origin, highlight.From)
		drawOverlay(img, origin, highlight.To)
	}
	if err := drawPieces(img, board, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	rankOrder = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	fileOrder = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for row, rank := range rankOrder {
		for col, file := range fileOrder {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			clr := lightSquare
			if (int(file)+int(rank))%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, origin image.Point) error {
	squareMap := board.SquareMap()
	for row, rank := range rankOrder {
		for col, file := range fileOrder {
			piece := squareMap[nchess.NewSquare(file, rank)]
			if piece == nchess.NoPiece {
				continue
			}
			pieceImg, err := renderPieceImage(piece, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), pieceImg, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func drawOverlay(img *image.RGBA, origin image.Point, sq nchess.Square) {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	imagedraw.Draw(img, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
}

func drawCoordinates(img *image.RGBA, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(coordinateFill),
		Face: basicfont.Face7x13,
	}

	for col := 0; col < 8; col++ {
		label := string(rune('a' + col))
		drawer.Dot = fixed.P(origin.X+col*squareSize+squareSize/2-3, origin.Y+boardSize+14)
		drawer.DrawString(label)
	}
	for row := 0; row < 8; row++ {
		label := string(rune('8' - row))
		drawer.Dot = fixed.P(origin.X-14, origin.Y+row*squareSize+squareSize/2+4)
		drawer.DrawString(label)
	}
}
