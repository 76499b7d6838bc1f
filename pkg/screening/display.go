package screening

import "github.com/synaptica-ai/recruit/pkg/common/models"

type Badge struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Icon  string `json:"icon,omitempty"`
}

func TagBadge(tag models.Tag) Badge {
	switch tag {
	case models.TagMatch:
		return Badge{Label: string(tag), Color: "green"}
	case models.TagPotentialMatch:
		return Badge{Label: string(tag), Color: "yellow"}
	case models.TagEligible:
		return Badge{Label: string(tag), Color: "blue"}
	case models.TagIneligible:
		return Badge{Label: string(tag), Color: "red"}
	default:
		return Badge{Label: string(tag), Color: "gray"}
	}
}

func StatusBadge(status models.Status) Badge {
	switch status {
	case models.StatusPendingReview:
		return Badge{Label: string(status), Color: "yellow", Icon: "clock"}
	case models.StatusAICallInitiated:
		return Badge{Label: string(status), Color: "purple", Icon: "phone"}
	case models.StatusVisitScheduled:
		return Badge{Label: string(status), Color: "blue", Icon: "calendar"}
	case models.StatusDeclined:
		return Badge{Label: string(status), Color: "gray", Icon: "x-circle"}
	case models.StatusFailedScreening:
		return Badge{Label: string(status), Color: "red", Icon: "alert-circle"}
	case models.StatusEnrolled:
		return Badge{Label: string(status), Color: "green", Icon: "check-circle"}
	default:
		return Badge{Label: string(status), Color: "gray", Icon: "help-circle"}
	}
}
