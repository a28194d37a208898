package gemini

const SnippetPromptTemplate = `You write short, practical advisories for smallholder farmers.

## RULES
1. Answer in language code "%s".
2. Plain text only, no markdown, at most %d characters.
3. Give one or two concrete actions the farmer can take today.
4. Do not invent weather values that are not listed below.

## ADVISORY
Title: %s
Severity: %s
Detected weather signals: %s
District: %s
Crop: %s
Growth stage: %s
`
