package capture

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/palmscroll/internal/detector"
)

var (
	connectorColor = color.RGBA{G: 255, A: 255}
	landmarkColor  = color.RGBA{R: 255, A: 255}
)

// DrawLandmarks draws the hand skeleton of every hand onto mat.
func DrawLandmarks(mat *gocv.Mat, hands []detector.HandLandmarks) {
	if mat == nil || mat.Empty() {
		return
	}
	w, h := mat.Cols(), mat.Rows()

	for i := range hands {
		hand := &hands[i]
		for _, c := range detector.HandConnections {
			x1, y1 := hand.Pixel(c.From, w, h)
			x2, y2 := hand.Pixel(c.To, w, h)
			gocv.Line(mat, image.Pt(x1, y1), image.Pt(x2, y2), connectorColor, 3)
		}
		for p := 0; p < detector.NumLandmarks; p++ {
			x, y := hand.Pixel(p, w, h)
			gocv.Circle(mat, image.Pt(x, y), 3, landmarkColor, -1)
		}
	}
}

// Preview is the latest overlay frame, JPEG encoded.
type Preview struct {
	JPEG        []byte
	TimestampMs int64
	Seq         uint64
}

func encodePreview(frame *Frame, hands []detector.HandLandmarks, seq uint64) (*Preview, error) {
	overlay := frame.Mat.Clone()
	defer overlay.Close()

	DrawLandmarks(&overlay, hands)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, overlay)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	return &Preview{
		JPEG:        append([]byte(nil), buf.GetBytes()...),
		TimestampMs: frame.TimestampMs,
		Seq:         seq,
	}, nil
}
