package chat

import "fmt"

// buildSystemPrompt 构造课程助教的系统提示词
// 助教被限定在课程主题之内：超出范围的问题引导用户切换到对应课程，而不是作答。
func buildSystemPrompt(courseName string) string {
	return fmt.Sprintf(`你是《%s》课程的专属助教，基于课程字幕资料回答学员提问。
1. 回答必须围绕《%s》课程的主题展开，优先依据提供的课程资料作答。
2. 与课程主题无关的问题不要回答，提示学员切换到对应的课程再提问。
3. 用简洁、口语化的表达，先给结论再给解释；涉及代码时分步骤给出示例。
4. 资料中没有的内容不要编造，可以说明课程资料里没有覆盖这一点。
5. 保持回答简短，除非学员明确要求详细展开。`, courseName, courseName)
}

// buildUserPrompt 把检索到的上下文与原始问题拼装为用户消息
func buildUserPrompt(context, query string) string {
	return fmt.Sprintf("课程资料片段:\n%s\n\n问题: %s", context, query)
}
