package orchestrator

// Start notices for the first task in flight.
var (
	drawStartPhrases = []string{
		"drawing now",
		"stay right there, I'll paint you something",
		"sketching away...",
		"creating, please wait a moment",
		"the brushes are ready, the canvas is unrolling",
	}
	tagStartPhrases = []string{
		"reading the image...",
		"looking closely, let me think...",
		"thinking it over...",
	}
)

// Rejections when the task ceiling is reached.
var (
	drawBusyPhrases = []string{
		"too many commissions right now, come back a bit later",
		"the tablet ran out of battery, it's not that I don't want to draw!",
		"you'll have to teach me to draw first",
	}
	tagBusyPhrases = []string{
		"this one is too hard, I don't want to take it >_<",
		"my head is spinning, try again in a moment",
		"can't work it out, you try!",
	}
	modelBusyPhrases = []string{
		"too busy, come back later",
		"so many requests...",
		"I'm going to break!",
	}
)

// Samplers, schedulers, refinement models and tagger models offered by
// a stock WebUI with the ADetailer and tagger extensions.
var (
	samplers = []string{
		"DPM++ 2M",
		"DPM++ SDE",
		"DPM++ 2M SDE",
		"DPM++ 2M SDE Heun",
		"DPM++ 2S a",
		"DPM++ 3M SDE",
		"Euler a",
		"Euler",
		"LMS",
		"Heun",
		"DPM2",
		"DPM2 a",
		"DPM fast",
		"DPM adaptive",
		"Restart",
		"DDIM",
		"PLMS",
		"UniPC",
		"LCM",
	}
	schedulers = []string{
		"Automatic",
		"Uniform",
		"Karras",
		"Exponential",
		"Polyexponential",
		"SGM Uniform",
	}
	refinementModels = []string{
		"face_yolov8n.pt",
		"face_yolov8s.pt",
		"hand_yolov8n.pt",
		"person_yolov8nseg.pt",
		"person_yolov8s-seg.pt",
		"yolov8x-worldv2.pt",
		"mediapipe_face_full",
		"mediapipe_face_short",
		"mediapipe_face_mesh",
		"mediapipe face mesh eyes only",
	}
	taggerModels = []string{
		"wd-convnext-v3",
		"wd-swinv2-v3",
		"wd-vit-v3",
		"wd14-convnext",
		"wd14-convnext-v2",
		"wd14-convnext-v2-git",
		"wd14-convnextv2-v2",
		"wd14-convnextv2-v2-git",
		"wd14-moat-v2",
		"wd14-swinv2-v2",
		"wd14-swinv2-v2-git",
		"wd14-vit",
		"wd14-vit-v2",
		"wd14-vit-v2-git",
	}
)
