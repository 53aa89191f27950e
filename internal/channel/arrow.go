package channel

import (
	"context"
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

const clearArrowScript = `
var g = document.getElementsByTagName("g")[0];
if (g) { g.textContent = ""; }
`

// drawArrowScript draws one suggestion arrow into the board's svg overlay.
// Arguments: x1, y1, x2, y2, src square, dst square.
const drawArrowScript = `
var x1 = arguments[0], y1 = arguments[1], x2 = arguments[2], y2 = arguments[3];
var src = arguments[4], dst = arguments[5];

var defs = document.getElementsByTagName("defs")[0];
var marker = document.getElementsByTagName("marker")[0];
if (marker == null && defs != null) {
	marker = document.createElementNS("http://www.w3.org/2000/svg", "marker");
	marker.setAttribute("id", "arrowhead-g");
	marker.setAttribute("orient", "auto");
	marker.setAttribute("markerWidth", "4");
	marker.setAttribute("markerHeight", "8");
	marker.setAttribute("refX", "2.05");
	marker.setAttribute("refY", "2.01");
	marker.setAttribute("cgKey", "g");
	var path = document.createElementNS("http://www.w3.org/2000/svg", "path");
	path.setAttribute("d", "M0,0 V4 L3,2 Z");
	path.setAttribute("fill", "#15781B");
	marker.appendChild(path);
	defs.appendChild(marker);
}

var g = document.getElementsByTagName("g")[0];
if (g == null) { return; }
var line = document.createElementNS("http://www.w3.org/2000/svg", "line");
line.setAttribute("stroke", "#15781B");
line.setAttribute("stroke-width", "0.15625");
line.setAttribute("stroke-linecap", "round");
line.setAttribute("marker-end", "url(#arrowhead-g)");
line.setAttribute("opacity", "1");
line.setAttribute("x1", x1);
line.setAttribute("y1", y1);
line.setAttribute("x2", x2);
line.setAttribute("y2", y2);
line.setAttribute("cgHash", src + "," + dst + ",green");
g.appendChild(line);
`

// DrawArrow overlays a suggestion arrow for a UCI move, oriented for the
// side we play. Best effort; drawing is cosmetic.
func (c *Channel) DrawArrow(ctx context.Context, moveUCI string, color nchess.Color) error {
	if len(moveUCI) < 4 {
		return fmt.Errorf("short move text %q", moveUCI)
	}
	src, dst := moveUCI[:2], moveUCI[2:4]
	x1, y1, err := squareOffset(src, color)
	if err != nil {
		return err
	}
	x2, y2, err := squareOffset(dst, color)
	if err != nil {
		return err
	}
	return c.sess.ExecuteScript(ctx, drawArrowScript, []any{x1, y1, x2, y2, src, dst}, nil)
}

// ClearArrow removes any overlay arrows.
func (c *Channel) ClearArrow(ctx context.Context) error {
	return c.sess.ExecuteScript(ctx, clearArrowScript, nil, nil)
}

// squareOffset maps a square like "e4" onto the board svg's -3.5..3.5
// coordinate grid, flipped when we play black.
func squareOffset(square string, color nchess.Color) (float64, float64, error) {
	if len(square) != 2 {
		return 0, 0, fmt.Errorf("bad square %q", square)
	}
	file := int(square[0] - 'a')
	rank := int(square[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return 0, 0, fmt.Errorf("bad square %q", square)
	}
	x := float64(file) - 3.5
	y := 3.5 - float64(rank)
	if color == nchess.Black {
		x, y = -x, -y
	}
	return x, y, nil
}
