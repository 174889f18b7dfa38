package processor

import (
	"fmt"
	"math"
	"strings"

	"github.com/timkrebs/image-resampler/internal/models"
)

const (
	maxLanczosRadius = 16
	maxThumbnailSize = 4096
)

// Validate checks operation names and parameters before a job is accepted.
// Checks that depend on the source image, like reduce never enlarging, happen
// when the job runs.
func (p *Processor) Validate(operations []models.Operation) error {
	for i, op := range operations {
		if err := p.validateOperation(op); err != nil {
			return fmt.Errorf("%w: operation %d (%s): %s", ErrInvalidOperation, i, op.Operation, err)
		}
	}
	return nil
}

type paramError string

func (e paramError) Error() string { return string(e) }

func (p *Processor) validateOperation(op models.Operation) error {
	switch op.Operation {
	case models.OperationResize:
		if err := p.validateDimensions(op.Parameters); err != nil {
			return err
		}
		return p.validateFilter(op.Parameters)
	case models.OperationReduce:
		if err := p.validateDimensions(op.Parameters); err != nil {
			return err
		}
		sharp := getFloatParam(op.Parameters, "sharp", p.settings.Sharp)
		if math.IsNaN(sharp) || sharp < 0 || sharp >= 1 {
			return paramError("sharp must be in [0, 1)")
		}
		return nil
	case models.OperationThumbnail:
		size := getIntParam(op.Parameters, "size", 150)
		if size < 1 || size > min(maxThumbnailSize, p.settings.MaxDimension) {
			return paramError(fmt.Sprintf("size must be between 1 and %d", min(maxThumbnailSize, p.settings.MaxDimension)))
		}
		return p.validateFilter(op.Parameters)
	default:
		return paramError("unknown operation")
	}
}

func (p *Processor) validateDimensions(params map[string]interface{}) error {
	width := getIntParam(params, "width", 0)
	height := getIntParam(params, "height", 0)
	switch {
	case width < 0 || height < 0:
		return paramError("width and height must not be negative")
	case width == 0 && height == 0:
		return paramError("width or height is required")
	case width > p.settings.MaxDimension || height > p.settings.MaxDimension:
		return paramError(fmt.Sprintf("width and height must not exceed %d", p.settings.MaxDimension))
	}
	return nil
}

func (p *Processor) validateFilter(params map[string]interface{}) error {
	name := strings.ToLower(strings.TrimSpace(getStringParam(params, "filter", p.settings.Filter)))
	if _, err := kernelFor(name, params); err != nil {
		return paramError(err.Error())
	}

	if hasParam(params, "radius") {
		radius := getFloatParam(params, "radius", 0)
		if !(radius >= 1 && radius <= maxLanczosRadius) {
			return paramError(fmt.Sprintf("radius must be between 1 and %d", maxLanczosRadius))
		}
	}
	if hasParam(params, "a") {
		a := getFloatParam(params, "a", 0)
		if !(a >= 0 && a <= 1) {
			return paramError("a must be between 0 and 1")
		}
	}

	scale := getFloatParam(params, "filter_scale", p.settings.FilterScale)
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return paramError("filter_scale must be a positive number")
	}
	return nil
}
