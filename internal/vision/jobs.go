package vision

import (
	"crypto/md5"
	"encoding/hex"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/chunk"
)

// Image filters: figures below these thresholds are decorative noise
// not worth a vision call. Caption or footnote presence relaxes them.
const (
	minImageAreaRatio            = 0.01
	minImageAreaRatioWithCaption = 0.005
	maxImageAspectRatio          = 10.0
	minImageBytes                = 10 * 1024
	minImageBytesWithCaption     = 2 * 1024
	minImageMinDim               = 96
	minImagePixelArea            = minImageMinDim * minImageMinDim
	perPageImageLimit            = 5
)

// ImageJob is one vision fan-out unit.
type ImageJob struct {
	Seq            int    `json:"seq"`
	PageNumber     int    `json:"page_number"`
	IsTitle        bool   `json:"is_title"`
	ImagePath      string `json:"img_path"`
	ContextPayload string `json:"context_payload"`
	BaseText       string `json:"base_text"`
}

// SelectImageJobs walks parsed content, keeps the images worth
// describing and assigns each a sequential seq in document order. The
// accepted items are annotated with their seq in place.
func SelectImageJobs(items []chunk.ParsedItem, outputDir string, window int) []ImageJob {
	if window <= 0 {
		window = 2
	}
	blocks := BuildContextBlocks(items)

	var jobs []ImageJob
	seq := 1
	perPage := make(map[int]int)
	seenHashes := make(map[string]bool)

	for i := range items {
		it := &items[i]
		if it.Kind != chunk.KindImage || !it.HasImageFile() {
			continue
		}
		imgPath := filepath.Join(outputDir, it.ImgPath)
		if _, err := os.Stat(imgPath); err != nil {
			log.Info().Str("path", imgPath).Msg("skipping missing image")
			continue
		}

		pageNumber := it.PageNumber()
		hasCaption := it.HasImageText()
		dimW, dimH := imageDims(imgPath)
		fileSize, fileHash := fileStats(imgPath)

		if ratio, ok := imageAreaRatio(it); ok {
			minRatio := minImageAreaRatio
			if hasCaption {
				minRatio = minImageAreaRatioWithCaption
			}
			if ratio < minRatio {
				log.Debug().Float64("ratio", ratio).Str("path", imgPath).Int("page", pageNumber).Msg("skip image: small area")
				continue
			}
		}
		if aspect, ok := bboxAspect(it); ok && aspect > maxImageAspectRatio {
			log.Debug().Float64("aspect", aspect).Str("path", imgPath).Int("page", pageNumber).Msg("skip image: extreme aspect")
			continue
		}
		if dimW > 0 && dimH > 0 {
			dimAspect := float64(dimW) / float64(dimH)
			if dimH > dimW {
				dimAspect = float64(dimH) / float64(dimW)
			}
			if dimAspect > maxImageAspectRatio {
				log.Debug().Float64("aspect", dimAspect).Str("path", imgPath).Int("page", pageNumber).Msg("skip image: extreme intrinsic aspect")
				continue
			}
			if !hasCaption {
				minSide := dimW
				if dimH < minSide {
					minSide = dimH
				}
				if minSide < minImageMinDim {
					log.Debug().Int("min_side", minSide).Str("path", imgPath).Int("page", pageNumber).Msg("skip image: small side")
					continue
				}
				if dimW*dimH < minImagePixelArea {
					log.Debug().Int("pixels", dimW*dimH).Str("path", imgPath).Int("page", pageNumber).Msg("skip image: small pixel area")
					continue
				}
			}
		}
		minBytes := int64(minImageBytes)
		if hasCaption {
			minBytes = minImageBytesWithCaption
		}
		if fileSize > 0 && fileSize < minBytes {
			log.Debug().Int64("bytes", fileSize).Str("path", imgPath).Int("page", pageNumber).Msg("skip image: small file")
			continue
		}
		if fileHash != "" && seenHashes[fileHash] {
			log.Debug().Str("hash", fileHash).Str("path", imgPath).Msg("skip duplicate image")
			continue
		}
		if perPage[pageNumber] >= perPageImageLimit {
			log.Debug().Int("page", pageNumber).Str("path", imgPath).Msg("skip image: per-page limit")
			continue
		}

		before, after := ResolveWindows(blocks, i, it.PageIdx, window)
		payload := BuildImageContext(*it, before, after)

		it.ImageSeq = seq
		jobs = append(jobs, ImageJob{
			Seq:            seq,
			PageNumber:     pageNumber,
			IsTitle:        it.TextLevel != nil,
			ImagePath:      imgPath,
			ContextPayload: payload,
			BaseText:       chunk.ImageText(it),
		})
		seq++
		perPage[pageNumber]++
		if fileHash != "" {
			seenHashes[fileHash] = true
		}
	}
	return jobs
}

func imageAreaRatio(it *chunk.ParsedItem) (float64, bool) {
	if len(it.BBox) != 4 || len(it.PageSize) != 2 {
		return 0, false
	}
	w := it.BBox[2] - it.BBox[0]
	h := it.BBox[3] - it.BBox[1]
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	pageArea := it.PageSize[0] * it.PageSize[1]
	if pageArea <= 0 {
		return 0, false
	}
	return w * h / pageArea, true
}

func bboxAspect(it *chunk.ParsedItem) (float64, bool) {
	if len(it.BBox) != 4 {
		return 0, false
	}
	w := it.BBox[2] - it.BBox[0]
	h := it.BBox[3] - it.BBox[1]
	if w <= 0 || h <= 0 {
		return 0, false
	}
	if w >= h {
		return w / h, true
	}
	return h / w, true
}

func imageDims(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func fileStats(path string) (int64, string) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, ""
	}
	f, err := os.Open(path)
	if err != nil {
		return info.Size(), ""
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return info.Size(), ""
	}
	return info.Size(), hex.EncodeToString(h.Sum(nil))
}
