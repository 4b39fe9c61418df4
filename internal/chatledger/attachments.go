package chatledger

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/RuSwift/garantex-sub000/internal/model"
)

// probeImageDimensions fills in Width/Height for any image attachment
// that carries inline data but not its own dimensions yet, grounded on
// get_image_dimensions/add_message's "if attachment.type == 'photo' and
// attachment.data and not width/height" check. Decode failures are
// swallowed: a corrupt or unsupported image still gets stored, just
// without dimensions, exactly as the original logs and continues.
func probeImageDimensions(msg *model.ChatMessage) {
	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		if att.Type != model.AttachmentImage || att.Data == "" {
			continue
		}
		if att.Width > 0 && att.Height > 0 {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			log.Warnf("chatledger: attachment %s: invalid base64 image data: %v", att.ID, err)
			continue
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			log.Warnf("chatledger: attachment %s: could not decode image dimensions: %v", att.ID, err)
			continue
		}
		att.Width = cfg.Width
		att.Height = cfg.Height
	}
}
