package mask

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// ProfileBins is the length of a motion profile.
const ProfileBins = 4

// Profile reads a mask image and returns the share of pixels falling in each
// of ProfileBins equal intensity bands, darkest first.
func Profile(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mask '%s': %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mask '%s': %w", path, err)
	}
	return ProfileImage(img), nil
}

// ProfileImage computes the motion profile of an in-memory mask.
func ProfileImage(img image.Image) []float32 {
	profile := make([]float32, ProfileBins)
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return profile
	}

	var counts [ProfileBins]int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			counts[int(v)*ProfileBins/256]++
		}
	}
	for i, c := range counts {
		profile[i] = float32(c) / float32(total)
	}
	return profile
}
