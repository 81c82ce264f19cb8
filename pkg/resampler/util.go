package resampler

import (
	"math"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
)

func calculateTriangleArea(paX, paY, pbX, pbY, pcX, pcY model.Float) float64 {
	area := ((paX-pcX)*(pbY-paY) - (paX-pbX)*(pcY-paY)) * 0.5
	return math.Abs(float64(area))
}

func calculateAverageDataPoint(points []model.Float, xStart int64) (avgX model.Float, avgY model.Float) {
	flag := 0
	for _, point := range points {
		avgX += model.Float(xStart)
		avgY += point
		xStart++
		if math.IsNaN(float64(point)) {
			flag = 1
		}
	}

	l := model.Float(len(points))

	avgX /= l
	avgY /= l

	if flag == 1 {
		return avgX, model.NaN
	} else {
		return avgX, avgY
	}
}
