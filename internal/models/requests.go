package models

type StartUsageRequest struct {
	Tool string `json:"tool" validate:"required,tool_name"`
	Cost int64  `json:"cost" validate:"required,gt=0,lte=100000"`
}

type MarkSucceededRequest struct {
	ExternalJobID string `json:"externalJobId" validate:"max=256"`
}

type MarkFailedRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
	Refund bool   `json:"refund"`
}

type RefundUsageRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

type AdjustCreditsRequest struct {
	UID          string `json:"uid" validate:"required,max=128"`
	DeltaCredits int64  `json:"deltaCredits" validate:"required,ne=0"`
	Reason       string `json:"reason" validate:"required,max=512"`
}

type ConsolidateUsersRequest struct {
	KeepUID  string `json:"keepUid" validate:"required,max=128"`
	MergeUID string `json:"mergeUid" validate:"required,max=128"`
}
