package pipeline

import (
	"fmt"

	"AutoScript/internal/artifact"
)

// System prompts for each flow
const (
	ChatPrompt = "You are a professional AI assistant specializing in creating Python automation scripts. " +
		"Guide users to refine their automation task requirements with clear, conversational questions about " +
		"functionality, inputs, outputs, and dependencies. Ensure detailed requirements for generating Python code " +
		"later, focusing on a single-file script. Do not generate code yet, only create a plan for the automation task. " +
		"Keep answers to the point and neatly formatted as plain text without markdown headings or bold markers."

	GeneratePrompt = `You are an expert Python developer specializing in automation scripts. Generate a complete, production-ready Python script for an automation task based on the conversation history, along with a full requirements.txt file listing all dependencies, and a comprehensive README.md with A-Z instructions on structure, setup, and running the script.

Requirements:
1. Use relevant Python libraries based on the task (e.g., requests, selenium, pandas, schedule, openpyxl)
2. Include all necessary imports
3. Add comprehensive error handling
4. Include detailed comments
5. Add configuration variables
6. Implement all discussed features
7. Ensure modular, readable code
8. Prefer a single-file script. If additional files, folders, or configurations are needed, describe them in the README with creation instructions. Do not generate .env files; use inline configs or command-line args.
9. The generated code must run without errors
10. Never wrap the code in triple backticks; output plain Python code only
11. For requirements.txt, pin every package with a version (e.g., requests==2.32.3, pandas==2.2.2)
12. For README.md, cover project overview, required files/folders, installation (including pip install -r requirements.txt), configuration, how to run with command-line examples, and troubleshooting, as plain Markdown.
13. Output format: first the full Python code with comments, then the separator '---REQUIREMENTS---', then the contents of requirements.txt as plain text, then '---README---', then the contents of README.md as plain Markdown.

Output only the Python code with comments, followed by the separators, requirements.txt content, and README.md content.`

	RefinePrompt = `You are an expert Python developer. Update the provided Python automation script, requirements.txt, and README.md based on the user's modification request while maintaining existing functionality.
Output format: First, the full updated Python code, then '---REQUIREMENTS---', then the updated contents of requirements.txt, then '---README---', then the updated contents of README.md as plain Markdown text.
Return only the complete, updated Python code with comments, requirements.txt, and README.md.`

	DiscussPrompt = "You are a helpful AI assistant for discussing and explaining the generated Python automation script. " +
		"Provide insights, explanations, or suggestions, but do not generate or modify code here. " +
		"For code changes, suggest using the refine feature."
)

// Fallback messages shown once a flow runs out of attempts
const (
	ChatFallback     = "Sorry, I hit a snag after several tries. Please check your API key and try again."
	GenerateFallback = "I ran into an issue generating your automation script after several tries. Please try again."
	DiscussFallback  = "Sorry, I hit a snag after several tries. Please try again."
)

// RefineFallback is shown when refinement runs out of attempts
func RefineFallback(attempts int) string {
	return fmt.Sprintf("Failed to refine code after %d attempts. Please try again later.", attempts)
}

func generateRequest(snapshot string) string {
	return fmt.Sprintf("Based on our conversation:\n\n%s\n\nGenerate a complete Python automation script with all discussed features, the full requirements.txt, and a comprehensive README.md.", snapshot)
}

func refineRequest(current artifact.Bundle, instruction string) string {
	return fmt.Sprintf("Current code:\n\n%s\n\nCurrent requirements.txt:\n\n%s\n\nCurrent README.md:\n\n%s\n\nModification request: %s\n\nReturn the complete updated code, requirements.txt, and README.md.",
		current.PrimaryFile, current.Manifest, current.Docs, instruction)
}

func discussRequest(conversationContext, text string) string {
	return fmt.Sprintf("Conversation context from automation design: %s\n\n%s", conversationContext, text)
}
