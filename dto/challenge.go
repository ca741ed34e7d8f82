package dto

// CreateChallengeReq 管理员创建题目
type CreateChallengeReq struct {
	ChallengeName    string  `json:"challenge_name"`
	Category         string  `json:"category"`
	Author           string  `json:"author"`
	Description      string  `json:"description"`
	DockerImage      string  `json:"docker_image"`
	MemoryLimit      string  `json:"memory_limit"`
	CPULimit         float32 `json:"cpu_limit"`
	RedirectType     string  `json:"redirect_type"`
	RedirectPort     int     `json:"redirect_port"`
	FlagMode         string  `json:"flag_mode"`
	FlagStaticPrefix string  `json:"flag_static_prefix"`
	StaticFlag       string  `json:"static_flag"`
	InitialScore     uint    `json:"initial_score"`
	MinScore         uint    `json:"min_score"`
	DecayRatio       float32 `json:"decay_ratio"`
}

// UpdateChallengeReq 管理员更新题目，零值字段不更新
type UpdateChallengeReq struct {
	ChallengeName    *string  `json:"challenge_name"`
	Category         *string  `json:"category"`
	Author           *string  `json:"author"`
	Description      *string  `json:"description"`
	State            *string  `json:"state"`
	DockerImage      *string  `json:"docker_image"`
	MemoryLimit      *string  `json:"memory_limit"`
	CPULimit         *float32 `json:"cpu_limit"`
	RedirectType     *string  `json:"redirect_type"`
	RedirectPort     *int     `json:"redirect_port"`
	FlagMode         *string  `json:"flag_mode"`
	FlagStaticPrefix *string  `json:"flag_static_prefix"`
	StaticFlag       *string  `json:"static_flag"`
}

// SubmitFlagReq 用户提交 flag
type SubmitFlagReq struct {
	Flag string `json:"flag" binding:"required"`
}
