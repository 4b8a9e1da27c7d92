package prompts

// EmptyResponseNudge is the prompt injected when the model returns no
// content after executing tool calls. It gives the model one more
// chance to produce a user-visible response.
const EmptyResponseNudge = "你已经执行了工具调用，但还没有回复用户。请现在用中文简洁地回答用户的问题。"

// EmptyResponseFallback is the user-facing message returned when the
// model fails to produce content even after being nudged.
const EmptyResponseFallback = "抱歉，我处理了您的请求但未能生成回复，请重试。"
