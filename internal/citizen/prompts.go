package citizen

const evaluatePrompt = `Evaluate the following governance proposal.
Title: %s
Category: %s
Description:
%s

Reply with a JSON object {"support": "for" | "against" | "abstain", "reason": string, "confidence": number between 0 and 1}.`

const draftPrompt = `Draft a governance proposal about: %s
Background: %s

Reply with a JSON object {"title": string, "description": string, "category": "standard" | "constitutional"}.
Use "constitutional" only if the proposal amends the constitution.`

const reviewPrompt = `Review article %d of the constitution:
%s

Reply with a JSON object {"comments": [string], "suggested_edits": [string], "overall_assessment": string}.`

const introducePrompt = `Introduce yourself to the community in at most three sentences.`
