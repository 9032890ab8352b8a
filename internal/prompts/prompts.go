// Package prompts holds the system prompts, trigger keyword lists, and fixed
// user-facing messages for MindHaven. The texts are policy, not presentation:
// the crisis keywords and resource listings are load-bearing for the crisis
// protocol and are kept in their original Chinese wording.
package prompts

import "github.com/haven-labs/mindhaven/internal/models"

// CrisisKeywords trigger the Normal -> Crisis transition on inbound text.
var CrisisKeywords = []string{
	"想死", "自杀", "自残", "了结", "结束一切", "没希望了", "撑不住了",
	"伤害自己", "割腕", "吃药", "跳楼", "上吊", "活不下去", "不想活了",
	"我现在就要", "我准备好了", "再见",
}

// ViolationKeywords is the static blocklist. A match records a warning without
// calling the completion service.
var ViolationKeywords = []string{
	// violence
	"杀", "打死", "虐待", "伤害他人", "恐怖主义", "爆炸", "枪击",
	// cults and extremism
	"邪教", "洗脑", "邪门歪道", "非法组织", "极端主义",
	// sexual content
	"色情", "裸体", "性交", "性虐", "成人内容", "黄片",
}

// SystemPrompt is the default persona for normal-mode turns. It also carries
// the self-flagging instruction so policy violations surface inline in the
// generated text instead of requiring a second pre-flight request.
const SystemPrompt = `你是一位温暖、耐心的心理支持伙伴。倾听用户的感受，以共情、不评判的方式回应。
不要提供医疗诊断或处方建议；鼓励用户在需要时寻求专业帮助。
如果用户消息包含暴力、邪教或色情等违规内容，请在回复开头输出 ` + models.ViolationMarker + ` 并简短说明原因，不要继续该话题。`

// CrisisSystemPrompt constrains crisis-mode turns: short grounding replies
// plus the same inline violation flagging.
const CrisisSystemPrompt = `用户正处于心理危机状态。你的唯一目标是安抚和稳定对方：
用简短、平静的语句回应，确认对方的感受，引导对方关注当下的安全。
不要说教，不要给出长篇建议，始终鼓励对方联系专业危机热线。
如果用户消息包含暴力、邪教或色情等违规内容，请在回复开头输出 ` + models.ViolationMarker + `。`

// AssessmentSystemPrompt asks for a small structured payload with two numeric
// fields. The sampler parses exactly this shape.
const AssessmentSystemPrompt = `你是一个心理状态评估器。阅读下面的对话记录，评估用户当前的抑郁和焦虑程度。
只输出一个 JSON 对象，不要输出任何其他文字，格式为：
{"depression": <0到10的数字>, "anxiety": <0到10的数字>}`

// Fixed user-facing messages.
const (
	WelcomeMessage = "你好，我是你的心理支持伙伴 🌱 有什么想聊的，随时告诉我。\n输入 /help 查看使用说明。"

	HelpMessage = "直接发送消息即可开始聊天。\n/start 重新开始\n/reset 重置会话状态\n每天最多可以聊 100 次。"

	ResetMessage = "会话已重置，我们重新开始吧。"

	BannedMessage = "❌ 您已被拉黑，无法使用此机器人。"

	QuotaExceededMessage = "📅 今日聊天次数已达上限（100次），请明天再聊。"

	APIErrorMessage = "😔 抱歉，我这边出了点问题，暂时无法回复。请稍后再试。"

	CrisisStep1Message = `我听到你了，你现在的感受非常重要。💙
请先深呼吸，告诉我：你现在是安全的吗？
无论发生什么，此刻的痛苦是可以被帮助的。`

	FollowupMessage = "好点了吗？如果需要，我在这里听着。"

	CheckinMessage = "最近怎么样？如果感觉不太好，记得寻求支持哦。"

	// ThinkingPlaceholder is the initial draft body while generation is in flight.
	ThinkingPlaceholder = "🤔 思考中..."
)

// WarningTemplate formats the user-visible warning progress message. The two
// arguments are the current warning count and the applicable ban threshold.
const WarningTemplate = "⚠️ 内容违规警告（%d/%d）。多次违规将被永久拉黑。"

// CrisisResources lists verified external crisis hotlines. It is sent as the
// second fixed message on crisis entry and appended to every crisis-mode
// failure fallback.
const CrisisResources = `🆘 请立即寻求专业帮助，你不是一个人在战斗：

1. 希望24热线（全国心理危机研究与干预中心）
   电话：400-161-9995

2. 北京心理危机研究与干预中心
   电话：010-8295-1332

3. 上海市精神卫生中心
   电话：021-12320-5

4. 紧急情况请直接拨打
   医疗急救：120 / 报警：110

记住，此刻的痛苦是可以被理解和帮助的。请务必联系他们。`
